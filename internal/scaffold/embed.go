// Package scaffold embeds the starter files installed by "orchestrate
// --init": a commented project config, an example ceremony request, and a
// worker script showing the attempt contract. The embedded filesystem is
// rooted at "templates/".
package scaffold

import "embed"

// TemplatesFS contains the embedded starter files. Walk from "templates"
// to iterate over all of them.
//
//go:embed all:templates
var TemplatesFS embed.FS

// Root is the directory inside TemplatesFS that holds the starter files.
const Root = "templates"
