package convener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// WellKnownPath serves the service card for discovery.
const WellKnownPath = "/.well-known/convener.json"

// Start creates an HTTP server, registers routes, and begins serving.
// It returns immediately after starting the server in a background goroutine.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+WellKnownPath, s.handleCard)
	mux.HandleFunc("POST /", s.handleJSONRPC)
	mux.HandleFunc("GET /ceremonies/{id}/events", s.handleEvents)

	s.http = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go s.http.ListenAndServe()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleCard serves the service card as JSON at the well-known endpoint.
func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(s.card); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleJSONRPC processes incoming JSON-RPC 2.0 requests and dispatches them
// to the appropriate handler method.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, ErrCodeParse, "Parse error: "+err.Error())
		return
	}

	ctx := r.Context()

	switch req.Method {
	case MethodInitiate:
		s.dispatchInitiate(ctx, w, &req)
	case MethodGet:
		s.dispatchGet(ctx, w, &req)
	case MethodList:
		s.dispatchList(ctx, w, &req)
	case MethodAbort:
		s.dispatchAbort(ctx, w, &req)
	case MethodResult:
		s.dispatchResult(ctx, w, &req)
	default:
		writeJSONRPCError(w, req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

// dispatchInitiate unmarshals params and calls Initiate.
func (s *Server) dispatchInitiate(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params InitiateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	result, err := s.handler.Initiate(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// dispatchGet unmarshals params and calls Get.
func (s *Server) dispatchGet(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params GetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	result, err := s.handler.Get(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// dispatchList unmarshals params and calls List. Params may be omitted
// entirely for an unfiltered listing.
func (s *Server) dispatchList(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params ListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
			return
		}
	}

	result, err := s.handler.List(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// dispatchAbort unmarshals params and calls Abort.
func (s *Server) dispatchAbort(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params AbortParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	result, err := s.handler.Abort(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// dispatchResult unmarshals params and calls Result.
func (s *Server) dispatchResult(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest) {
	var params ResultParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	result, err := s.handler.Result(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// handleEvents streams a ceremony's progress as Server-Sent Events until the
// ceremony settles or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ceremonyID := r.PathValue("id")

	events, stop, err := s.handler.Watch(r.Context(), ceremonyID)
	if err != nil {
		if errors.Is(err, ErrCeremonyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer stop()

	sse := NewSSEWriter(w)
	sse.Init()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(ev); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// errorCode maps service errors to JSON-RPC error codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrCeremonyNotFound):
		return ErrCodeCeremonyNotFound
	case errors.Is(err, ErrCeremonyExists):
		return ErrCodeCeremonyExists
	case errors.Is(err, ErrCeremonySettled):
		return ErrCodeCeremonySettled
	default:
		return ErrCodeInternal
	}
}

// writeJSONRPCResult writes a successful JSON-RPC response.
func writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeJSONRPCError(w, id, ErrCodeInternal, "Failed to marshal result: "+err.Error())
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  data,
	}

	json.NewEncoder(w).Encode(resp)
}

// writeJSONRPCError writes a JSON-RPC error response.
func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}

	json.NewEncoder(w).Encode(resp)
}
