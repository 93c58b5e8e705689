package convener

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// ---------------------------------------------------------------------------
// Mock Handler
// ---------------------------------------------------------------------------

type mockHandler struct {
	initiate func(ctx context.Context, params InitiateParams) (*CeremonyView, error)
	get      func(ctx context.Context, params GetParams) (*CeremonyView, error)
	list     func(ctx context.Context, params ListParams) (*ListResult, error)
	abort    func(ctx context.Context, params AbortParams) (*orchestrator.Report, error)
	result   func(ctx context.Context, params ResultParams) (*orchestrator.Report, error)
	watch    func(ctx context.Context, ceremonyID string) (<-chan StreamEvent, func(), error)
}

func (m *mockHandler) Initiate(ctx context.Context, params InitiateParams) (*CeremonyView, error) {
	if m.initiate != nil {
		return m.initiate(ctx, params)
	}
	return nil, fmt.Errorf("initiate not implemented")
}

func (m *mockHandler) Get(ctx context.Context, params GetParams) (*CeremonyView, error) {
	if m.get != nil {
		return m.get(ctx, params)
	}
	return nil, fmt.Errorf("get not implemented")
}

func (m *mockHandler) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if m.list != nil {
		return m.list(ctx, params)
	}
	return nil, fmt.Errorf("list not implemented")
}

func (m *mockHandler) Abort(ctx context.Context, params AbortParams) (*orchestrator.Report, error) {
	if m.abort != nil {
		return m.abort(ctx, params)
	}
	return nil, fmt.Errorf("abort not implemented")
}

func (m *mockHandler) Result(ctx context.Context, params ResultParams) (*orchestrator.Report, error) {
	if m.result != nil {
		return m.result(ctx, params)
	}
	return nil, fmt.Errorf("result not implemented")
}

func (m *mockHandler) Watch(ctx context.Context, ceremonyID string) (<-chan StreamEvent, func(), error) {
	if m.watch != nil {
		return m.watch(ctx, ceremonyID)
	}
	return nil, nil, fmt.Errorf("watch not implemented")
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func startTestServer(t *testing.T, handler Handler, card ServiceCard) (string, *Server) {
	t.Helper()

	srv := NewServer(card, handler)

	// Grab a random available port, then release it so the server can bind.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	require.NoError(t, srv.Start(context.Background(), addr))

	// Poll until the server is accepting connections (max 2 s).
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, dialErr := net.Dial("tcp", addr)
		if dialErr == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() { srv.Stop(context.Background()) })
	return "http://" + addr, srv
}

func testCard() ServiceCard {
	return ServiceCard{
		Name:         "test-orchestrator",
		Description:  "A test orchestrator",
		Version:      "0.1.0",
		Endpoint:     "http://127.0.0.1:0/",
		Capabilities: ServiceCapabilities{Streaming: true},
	}
}

// postJSONRPC sends a JSON-RPC request and decodes the response.
func postJSONRPC(t *testing.T, baseURL string, method string, id any, params any) JSONRPCResponse {
	t.Helper()

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		rawParams = b
	}

	reqBody := JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  rawParams,
	}

	body, err := json.Marshal(reqBody)
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return rpcResp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestServer_ServiceCard(t *testing.T) {
	card := testCard()
	baseURL, _ := startTestServer(t, &mockHandler{}, card)

	resp, err := http.Get(baseURL + WellKnownPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got ServiceCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, card.Name, got.Name)
	assert.Equal(t, card.Description, got.Description)
	assert.Equal(t, card.Version, got.Version)
	assert.True(t, got.Capabilities.Streaming)
}

func TestServer_Initiate(t *testing.T) {
	handler := &mockHandler{
		initiate: func(ctx context.Context, params InitiateParams) (*CeremonyView, error) {
			view := &CeremonyView{
				CeremonySummary: CeremonySummary{
					ID:         params.Ceremony,
					Intention:  params.Intention,
					Status:     string(ledger.CeremonyInitiated),
					TasksTotal: len(params.Tasks) + 1,
				},
			}
			return view, nil
		},
	}

	baseURL, _ := startTestServer(t, handler, testCard())

	params := InitiateParams{
		Ceremony:  "cer-http",
		Intention: "serve a ceremony over the wire",
		Tasks: []InitiateTask{
			{ID: "t-a", Name: "Only step", Description: "do the thing"},
		},
	}

	rpcResp := postJSONRPC(t, baseURL, MethodInitiate, 1, params)

	assert.Equal(t, JSONRPCVersion, rpcResp.JSONRPC)
	assert.Nil(t, rpcResp.Error)
	require.NotNil(t, rpcResp.Result)

	var view CeremonyView
	require.NoError(t, json.Unmarshal(rpcResp.Result, &view))
	assert.Equal(t, "cer-http", view.ID)
	assert.Equal(t, string(ledger.CeremonyInitiated), view.Status)
	assert.Equal(t, 2, view.TasksTotal)
}

func TestServer_ParseError(t *testing.T) {
	baseURL, _ := startTestServer(t, &mockHandler{}, testCard())

	resp, err := http.Post(baseURL+"/", "application/json", bytes.NewReader([]byte("{invalid json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))

	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeParse, rpcResp.Error.Code)
	assert.Contains(t, rpcResp.Error.Message, "Parse error")
}

func TestServer_MethodNotFound(t *testing.T) {
	baseURL, _ := startTestServer(t, &mockHandler{}, testCard())

	rpcResp := postJSONRPC(t, baseURL, "ceremony/bless", 1, nil)

	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, rpcResp.Error.Code)
	assert.Contains(t, rpcResp.Error.Message, "Method not found")
}

func TestServer_ErrorCodeMapping(t *testing.T) {
	handler := &mockHandler{
		get: func(ctx context.Context, params GetParams) (*CeremonyView, error) {
			return nil, fmt.Errorf("%w: %s", ErrCeremonyNotFound, params.ID)
		},
		initiate: func(ctx context.Context, params InitiateParams) (*CeremonyView, error) {
			return nil, fmt.Errorf("%w: %s", ErrCeremonyExists, params.Ceremony)
		},
		abort: func(ctx context.Context, params AbortParams) (*orchestrator.Report, error) {
			return nil, fmt.Errorf("%w: %s", ErrCeremonySettled, params.ID)
		},
		result: func(ctx context.Context, params ResultParams) (*orchestrator.Report, error) {
			return nil, fmt.Errorf("the disk fell over")
		},
	}

	baseURL, _ := startTestServer(t, handler, testCard())

	rpcResp := postJSONRPC(t, baseURL, MethodGet, 1, GetParams{ID: "cer-x"})
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeCeremonyNotFound, rpcResp.Error.Code)

	rpcResp = postJSONRPC(t, baseURL, MethodInitiate, 2, InitiateParams{Ceremony: "cer-x"})
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeCeremonyExists, rpcResp.Error.Code)

	rpcResp = postJSONRPC(t, baseURL, MethodAbort, 3, AbortParams{ID: "cer-x"})
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeCeremonySettled, rpcResp.Error.Code)

	rpcResp = postJSONRPC(t, baseURL, MethodResult, 4, ResultParams{ID: "cer-x"})
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeInternal, rpcResp.Error.Code)
	assert.Contains(t, rpcResp.Error.Message, "the disk fell over")
}

func TestServer_ListWithoutParams(t *testing.T) {
	var receivedStatus string
	handler := &mockHandler{
		list: func(ctx context.Context, params ListParams) (*ListResult, error) {
			receivedStatus = params.Status
			return &ListResult{Ceremonies: []CeremonySummary{}, TotalSize: 0}, nil
		},
	}

	baseURL, _ := startTestServer(t, handler, testCard())

	rpcResp := postJSONRPC(t, baseURL, MethodList, 1, nil)
	assert.Nil(t, rpcResp.Error)
	require.NotNil(t, rpcResp.Result)
	assert.Empty(t, receivedStatus)

	var result ListResult
	require.NoError(t, json.Unmarshal(rpcResp.Result, &result))
	assert.Equal(t, 0, result.TotalSize)
}

func TestServer_InvalidParamsError(t *testing.T) {
	baseURL, _ := startTestServer(t, &mockHandler{}, testCard())

	reqBody := `{"jsonrpc":"2.0","id":6,"method":"ceremony/get","params":"not-an-object"}`

	resp, err := http.Post(baseURL+"/", "application/json", bytes.NewReader([]byte(reqBody)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))

	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, ErrCodeInvalidParams, rpcResp.Error.Code)
	assert.Contains(t, rpcResp.Error.Message, "Invalid params")
}

func TestServer_EventsStreamsSSE(t *testing.T) {
	events := make(chan StreamEvent, 3)
	events <- StreamEvent{Progress: &ProgressUpdate{CeremonyID: "cer-sse", Task: "t-a", Status: "complete"}}
	events <- StreamEvent{Report: &orchestrator.Report{CeremonyID: "cer-sse", Status: ledger.CeremonyComplete}}
	close(events)

	var watchedID string
	handler := &mockHandler{
		watch: func(ctx context.Context, ceremonyID string) (<-chan StreamEvent, func(), error) {
			watchedID = ceremonyID
			return events, func() {}, nil
		},
	}

	baseURL, _ := startTestServer(t, handler, testCard())

	resp, err := http.Get(baseURL + "/ceremonies/cer-sse/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "cer-sse", watchedID)

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, frames, 2)

	var first StreamEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	require.NotNil(t, first.Progress)
	assert.Equal(t, "t-a", first.Progress.Task)

	var second StreamEvent
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &second))
	require.NotNil(t, second.Report)
	assert.Equal(t, ledger.CeremonyComplete, second.Report.Status)
}

func TestServer_EventsUnknownCeremony404(t *testing.T) {
	handler := &mockHandler{
		watch: func(ctx context.Context, ceremonyID string) (<-chan StreamEvent, func(), error) {
			return nil, nil, fmt.Errorf("%w: %s", ErrCeremonyNotFound, ceremonyID)
		},
	}

	baseURL, _ := startTestServer(t, handler, testCard())

	resp, err := http.Get(baseURL + "/ceremonies/cer-ghost/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := NewServer(testCard(), &mockHandler{})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	require.NoError(t, srv.Start(context.Background(), addr))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, dialErr := net.Dial("tcp", addr)
		if dialErr == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + addr + WellKnownPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	time.Sleep(50 * time.Millisecond)

	_, err = http.Get("http://" + addr + WellKnownPath)
	assert.Error(t, err, "expected connection error after shutdown")
}
