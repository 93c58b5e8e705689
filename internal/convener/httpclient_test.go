package convener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// rpcHandler builds an http.Handler that decodes a JSON-RPC request, passes
// it to fn, and writes the response fn returns.
func rpcHandler(t *testing.T, fn func(req JSONRPCRequest) JSONRPCResponse) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := fn(req)
		resp.JSONRPC = JSONRPCVersion
		resp.ID = req.ID

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
}

func resultJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHTTPClient_Initiate(t *testing.T) {
	var gotMethod string
	var gotParams InitiateParams

	ts := httptest.NewServer(rpcHandler(t, func(req JSONRPCRequest) JSONRPCResponse {
		gotMethod = req.Method
		require.NoError(t, json.Unmarshal(req.Params, &gotParams))
		return JSONRPCResponse{
			Result: resultJSON(t, CeremonyView{
				CeremonySummary: CeremonySummary{
					ID:     "cer-remote",
					Status: string(ledger.CeremonyInitiated),
				},
			}),
		}
	}))
	defer ts.Close()

	client := NewHTTPClient()
	view, err := client.Initiate(context.Background(), ts.URL, InitiateParams{
		Ceremony:  "cer-remote",
		Intention: "run on the far side",
		Tasks:     []InitiateTask{{ID: "t-a", Name: "Step", Description: "do it"}},
	})
	require.NoError(t, err)

	assert.Equal(t, MethodInitiate, gotMethod)
	assert.Equal(t, "cer-remote", gotParams.Ceremony)
	assert.Equal(t, "run on the far side", gotParams.Intention)
	assert.Equal(t, "cer-remote", view.ID)
	assert.Equal(t, string(ledger.CeremonyInitiated), view.Status)
}

func TestHTTPClient_GetAndResult(t *testing.T) {
	ts := httptest.NewServer(rpcHandler(t, func(req JSONRPCRequest) JSONRPCResponse {
		switch req.Method {
		case MethodGet:
			return JSONRPCResponse{Result: resultJSON(t, CeremonyView{
				CeremonySummary: CeremonySummary{ID: "cer-far", Status: string(ledger.CeremonyInProgress)},
				Tasks:           []TaskView{{ID: "t-a", Status: "COMPLETE"}},
			})}
		case MethodResult:
			return JSONRPCResponse{Result: resultJSON(t, orchestrator.Report{
				CeremonyID: "cer-far",
				Status:     ledger.CeremonyComplete,
				Output:     "# Ceremony Result",
			})}
		default:
			return JSONRPCResponse{Error: &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "nope"}}
		}
	}))
	defer ts.Close()

	client := NewHTTPClient()

	view, err := client.Get(context.Background(), ts.URL, GetParams{ID: "cer-far"})
	require.NoError(t, err)
	assert.Equal(t, "cer-far", view.ID)
	require.Len(t, view.Tasks, 1)
	assert.Equal(t, "t-a", view.Tasks[0].ID)

	report, err := client.Result(context.Background(), ts.URL, ResultParams{ID: "cer-far"})
	require.NoError(t, err)
	assert.Equal(t, ledger.CeremonyComplete, report.Status)
	assert.Equal(t, "# Ceremony Result", report.Output)
}

func TestHTTPClient_List(t *testing.T) {
	var gotParams ListParams

	ts := httptest.NewServer(rpcHandler(t, func(req JSONRPCRequest) JSONRPCResponse {
		require.NoError(t, json.Unmarshal(req.Params, &gotParams))
		return JSONRPCResponse{Result: resultJSON(t, ListResult{
			Ceremonies: []CeremonySummary{
				{ID: "cer-1", Status: string(ledger.CeremonyComplete)},
				{ID: "cer-2", Status: string(ledger.CeremonyComplete)},
			},
			TotalSize:     5,
			NextPageToken: "cer-2",
		})}
	}))
	defer ts.Close()

	client := NewHTTPClient()
	result, err := client.List(context.Background(), ts.URL, ListParams{Status: "COMPLETE", PageSize: 2})
	require.NoError(t, err)

	assert.Equal(t, "COMPLETE", gotParams.Status)
	assert.Equal(t, 2, gotParams.PageSize)
	assert.Equal(t, 5, result.TotalSize)
	require.Len(t, result.Ceremonies, 2)
	assert.Equal(t, "cer-2", result.NextPageToken)
}

func TestHTTPClient_Abort(t *testing.T) {
	var gotReason string

	ts := httptest.NewServer(rpcHandler(t, func(req JSONRPCRequest) JSONRPCResponse {
		var params AbortParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		gotReason = params.Reason
		return JSONRPCResponse{Result: resultJSON(t, orchestrator.Report{
			CeremonyID: params.ID,
			Status:     ledger.CeremonyFailed,
		})}
	}))
	defer ts.Close()

	client := NewHTTPClient()
	report, err := client.Abort(context.Background(), ts.URL, AbortParams{ID: "cer-halt", Reason: "priorities changed"})
	require.NoError(t, err)

	assert.Equal(t, "priorities changed", gotReason)
	assert.Equal(t, ledger.CeremonyFailed, report.Status)
}

func TestHTTPClient_RPCErrorSurfaced(t *testing.T) {
	ts := httptest.NewServer(rpcHandler(t, func(req JSONRPCRequest) JSONRPCResponse {
		return JSONRPCResponse{Error: &JSONRPCError{
			Code:    ErrCodeCeremonyNotFound,
			Message: "convener: ceremony not found: cer-ghost",
		}}
	}))
	defer ts.Close()

	client := NewHTTPClient()
	_, err := client.Get(context.Background(), ts.URL, GetParams{ID: "cer-ghost"})
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeCeremonyNotFound, rpcErr.Code)
	assert.Equal(t, MethodGet, rpcErr.Method)
	assert.Contains(t, rpcErr.Error(), "cer-ghost")
}

func TestHTTPClient_Non200Status(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "the gateway is on fire", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewHTTPClient()
	_, err := client.Get(context.Background(), ts.URL, GetParams{ID: "cer-x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")

	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr), "HTTP-level failure should not be an RPCError")
}

func TestHTTPClient_VerifiesRequestEnvelope(t *testing.T) {
	var gotEnvelope JSONRPCRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEnvelope))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JSONRPCResponse{
			JSONRPC: JSONRPCVersion,
			ID:      gotEnvelope.ID,
			Result:  json.RawMessage(`{}`),
		})
	}))
	defer ts.Close()

	client := NewHTTPClient()
	_, err := client.Result(context.Background(), ts.URL, ResultParams{ID: "cer-env"})
	require.NoError(t, err)

	assert.Equal(t, JSONRPCVersion, gotEnvelope.JSONRPC)
	assert.Equal(t, MethodResult, gotEnvelope.Method)
	assert.NotNil(t, gotEnvelope.ID)
}

func TestHTTPClient_Watch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ceremonies/cer-sse/events", r.URL.Path)

		sse := NewSSEWriter(w)
		sse.Init()
		sse.WriteEvent(StreamEvent{Progress: &ProgressUpdate{CeremonyID: "cer-sse", Task: "t-a", Status: "complete"}})
		sse.WriteEvent(StreamEvent{Report: &orchestrator.Report{CeremonyID: "cer-sse", Status: ledger.CeremonyComplete}})
	}))
	defer ts.Close()

	client := NewHTTPClient(WithTimeout(100 * time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := client.Watch(ctx, ts.URL, "cer-sse")
	require.NoError(t, err)

	var got []StreamEvent
	for ev := range events {
		require.NoError(t, ev.Err)
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	require.NotNil(t, got[0].Progress)
	assert.Equal(t, "t-a", got[0].Progress.Task)
	require.NotNil(t, got[1].Report)
	assert.Equal(t, ledger.CeremonyComplete, got[1].Report.Status)
}

func TestHTTPClient_WatchNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	client := NewHTTPClient()
	_, err := client.Watch(context.Background(), ts.URL, "cer-ghost")
	require.ErrorIs(t, err, ErrCeremonyNotFound)
}

func TestHTTPClient_Discover(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, WellKnownPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ServiceCard{
			Name:         "remote-orchestrator",
			Version:      "1.2.3",
			Capabilities: ServiceCapabilities{Streaming: true},
		})
	}))
	defer ts.Close()

	client := NewHTTPClient()
	card, err := client.Discover(context.Background(), ts.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, "remote-orchestrator", card.Name)
	assert.Equal(t, "1.2.3", card.Version)
	assert.True(t, card.Capabilities.Streaming)
}

func TestHTTPClient_DiscoverNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nothing to see", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewHTTPClient()
	_, err := client.Discover(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer ts.Close()
	defer close(block)

	client := NewHTTPClient()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, ts.URL, GetParams{ID: "cer-slow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), MethodGet)
}

func TestHTTPClient_RequestIDsIncrease(t *testing.T) {
	var ids []int64
	ts := httptest.NewServer(rpcHandler(t, func(req JSONRPCRequest) JSONRPCResponse {
		id, ok := req.ID.(float64)
		if ok {
			ids = append(ids, int64(id))
		}
		return JSONRPCResponse{Result: resultJSON(t, orchestrator.Report{})}
	}))
	defer ts.Close()

	client := NewHTTPClient()
	for i := 0; i < 3; i++ {
		_, err := client.Result(context.Background(), ts.URL, ResultParams{ID: "cer-seq"})
		require.NoError(t, err)
	}

	require.Len(t, ids, 3)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestRPCError_Message(t *testing.T) {
	err := &RPCError{Method: MethodAbort, Code: ErrCodeCeremonySettled, Message: "already settled"}
	assert.Equal(t, fmt.Sprintf("convener: %s: rpc error %d: %s", MethodAbort, ErrCodeCeremonySettled, "already settled"), err.Error())

	withData := &RPCError{Method: MethodGet, Code: ErrCodeInternal, Message: "boom", Data: json.RawMessage(`{"hint":"retry"}`)}
	assert.Contains(t, withData.Error(), `(data: {"hint":"retry"})`)
}
