package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/pkg/alloc"
	"relief/pkg/config"
	"relief/pkg/dispatch"
	"relief/pkg/interp"
	"relief/pkg/mailbox"
	"relief/pkg/persistence"
)

func newTestServer(t *testing.T) (*httptest.Server, *mailbox.Mailbox) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Pipeline.ThrottleInterval = time.Millisecond

	engine := alloc.NewEngine(store, cfg.Allocation, nil)
	mbox := mailbox.New(cfg.Pipeline.ResultTTL)
	d := dispatch.New(cfg.Pipeline, interp.NewRules(), alloc.NewExecutor(engine), mbox, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = d.Stop(stopCtx)
		cancel()
	})

	mux := http.NewServeMux()
	NewServer(d, mbox, engine).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mbox
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func pollOutputs(t *testing.T, srv *httptest.Server, requesterID string, n int) []string {
	t.Helper()
	var outputs []string
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/poll?requester_id=" + requesterID)
		if err != nil {
			return false
		}
		body := decodeBody(t, resp)
		for _, raw := range body["results"].([]any) {
			outputs = append(outputs, raw.(map[string]any)["output"].(string))
		}
		return len(outputs) >= n
	}, 10*time.Second, 10*time.Millisecond)
	return outputs
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "queue_depth")
}

func TestEnqueueAndPoll(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/enqueue",
		`{"persona":"requester","payload":"request 5 water bottles to Sector 4","task_name":"relief","requester_id":"req-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["task_id"])

	outputs := pollOutputs(t, srv, "req-1", 1)
	assert.Contains(t, outputs[0], "Dispatched 5")

	// Poll again: destructive read means no results remain.
	resp, err := http.Get(srv.URL + "/api/poll?requester_id=req-1")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Empty(t, body["results"])
}

func TestEnqueueValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/enqueue", `{"persona":"wizard","payload":"x","requester_id":"r"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/enqueue", `{"persona":"requester","payload":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/enqueue")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

func TestInventoryAndPendingViews(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/inventory")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	items := body["items"].([]any)
	assert.Len(t, items, 7)

	resp, err = http.Get(srv.URL + "/api/pending")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Empty(t, body["requests"])
}

func TestAdminRestockThroughQueue(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/admin/restock",
		`{"item_name":"medical_kits","quantity":40,"requester_id":"ops-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	outputs := pollOutputs(t, srv, "ops-1", 1)
	assert.Contains(t, outputs[0], "50 now in stock")
}

func TestAdminDecideFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	// A large request goes PENDING, then an admin approves it.
	resp := postJSON(t, srv.URL+"/api/enqueue",
		`{"persona":"requester","payload":"request 30 batteries to Sector 5","task_name":"relief","requester_id":"req-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	outputs := pollOutputs(t, srv, "req-1", 1)
	require.Contains(t, outputs[0], "awaiting supervisor approval")

	resp, err := http.Get(srv.URL + "/api/pending")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	requests := body["requests"].([]any)
	require.Len(t, requests, 1)
	id := int64(requests[0].(map[string]any)["id"].(float64))

	resp = postJSON(t, srv.URL+"/api/admin/decide",
		fmt.Sprintf(`{"request_id":%d,"decision":"approve","requester_id":"ops-1"}`, id))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	outputs = pollOutputs(t, srv, "ops-1", 1)
	assert.Contains(t, outputs[0], "approved")
	assert.Contains(t, outputs[0], "170 remain")
}

func TestAdminItemsValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/admin/items", `{"action":"upsert","item_name":"tarps"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/admin/items", `{"action":"add","item_name":"tarps","quantity":12,"requester_id":"ops-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	outputs := pollOutputs(t, srv, "ops-1", 1)
	assert.Contains(t, outputs[0], "Added tarps")
}
