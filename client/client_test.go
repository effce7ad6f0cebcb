package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSubmissions_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/submissions", r.URL.Path)
		assert.Equal(t, "devnet", r.URL.Query().Get("network"))
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("kind"))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"submissions":[{"id":"0192","network":"devnet","kind":"transfer","status":"failed","error_kind":"InsufficientFundsError"}],"count":1}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	subs, err := client.ListSubmissions(context.Background(), ListFilter{Network: "devnet", Status: "failed", Limit: 5})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Empty(t, subs[0].Signature)
	require.NotNil(t, subs[0].ErrorKind)
	assert.Equal(t, "InsufficientFundsError", *subs[0].ErrorKind)
}

func TestListSubmissions_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid limit: must be between 1 and 1000"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	_, err := client.ListSubmissions(context.Background(), ListFilter{Limit: 5000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid limit")
}

func TestGetSubmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/submissions/sig123" {
			w.Write([]byte(`{"signature":"sig123","status":"finalized","slot":77}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"submission not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	sub, err := client.GetSubmission(context.Background(), "sig123")
	require.NoError(t, err)
	assert.Equal(t, "finalized", sub.Status)
	require.NotNil(t, sub.Slot)
	assert.Equal(t, int64(77), *sub.Slot)

	_, err = client.GetSubmission(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "submission not found")
}

func TestStartTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "recipient1", body["recipient"])
		assert.Equal(t, "0.25", body["amount"])
		assert.NotContains(t, body, "lamports")

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"workflow_id":"transfer-abc","run_id":"run-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	started, err := client.StartTransfer(context.Background(), TransferRequest{Recipient: "recipient1", Amount: "0.25"})
	require.NoError(t, err)
	assert.Equal(t, "transfer-abc", started.WorkflowID)
	assert.Equal(t, "run-1", started.RunID)
}

func TestStartTransfer_ExistingWorkflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"workflow_id":"transfer-abc","run_id":"run-0","existing":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	started, err := client.StartTransfer(context.Background(), TransferRequest{Recipient: "recipient1", Lamports: 1, ID: "abc"})
	require.NoError(t, err)
	assert.True(t, started.Existing)
	assert.Equal(t, "run-0", started.RunID)
}

func TestStartTransfer_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StartTransfer(context.Background(), TransferRequest{Recipient: "r", Lamports: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestAwaitTransfer_PollsUntilDone(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers/transfer-abc", r.URL.Path)
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"workflow_id":"transfer-abc","state":"running"}`))
			return
		}
		w.Write([]byte(`{"workflow_id":"transfer-abc","state":"completed","result":{"signature":"sig1","status":"unknown","network":"devnet","resolved":false}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.AwaitTransfer(ctx, "transfer-abc", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, status.Done())
	require.NotNil(t, status.Result)
	assert.Equal(t, "unknown", status.Result.Status)
	assert.Equal(t, "sig1", status.Result.Signature)
}

func TestAwaitTransfer_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workflow_id":"transfer-abc","state":"running"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.AwaitTransfer(ctx, "transfer-abc", 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled), err.Error())
}

func TestAwaitTransfer_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"transfer workflow not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.AwaitTransfer(context.Background(), "transfer-missing", time.Millisecond)
	assert.ErrorIs(t, err, ErrNotFound)
}

func sseServer(t *testing.T, write func(w http.ResponseWriter, flush func())) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/receipts", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")
		write(w, flusher.Flush)
	}))
}

func TestAwaitReceipt_MatchingReceipt(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: connected\ndata: {\"filter\":\"submissions.devnet.transfer\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: receipt\ndata: {\"signature\":\"other\",\"network\":\"devnet\",\"kind\":\"transfer\",\"status\":\"confirmed\"}\n\n")
		fmt.Fprint(w, "event: receipt\ndata: {\"signature\":\"wanted\",\"network\":\"devnet\",\"kind\":\"transfer\",\"status\":\"finalized\",\"amount\":500}\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipt, err := client.AwaitReceipt(ctx, "devnet", "transfer", func(r *Receipt) bool {
		return r.Signature == "wanted"
	})
	require.NoError(t, err)
	assert.Equal(t, "finalized", receipt.Status)
	assert.Equal(t, uint64(500), receipt.Amount)
}

func TestAwaitReceipt_StreamError(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: error\ndata: {\"error\":\"stream failed\"}\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.AwaitReceipt(context.Background(), "", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream failed")
}

func TestAwaitReceipt_StreamClosedWithoutMatch(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: receipt\ndata: {\"signature\":\"a\"}\n\n")
		fmt.Fprint(w, "event: receipt\ndata: not-json\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.AwaitReceipt(context.Background(), "", "", func(r *Receipt) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receipt stream closed")
}

func TestAwaitReceipt_ContextCancelled(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
		flush()
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.AwaitReceipt(ctx, "", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for receipt")
}
