// Package handlers exposes the coordination pipeline over HTTP: task
// submission and polling for field clients, read-only views, and admin
// actions. Admin mutations are enqueued as direct tool-call tasks so that
// every write still flows through the single worker.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relief/pkg/alloc"
	"relief/pkg/dispatch"
	"relief/pkg/logx"
	"relief/pkg/mailbox"
	"relief/pkg/proto"
)

// Server wires the HTTP surface to the pipeline.
type Server struct {
	dispatcher *dispatch.Dispatcher
	mailbox    *mailbox.Mailbox
	engine     *alloc.Engine
	logger     *logx.Logger
}

// NewServer creates the HTTP handler set.
func NewServer(dispatcher *dispatch.Dispatcher, mbox *mailbox.Mailbox, engine *alloc.Engine) *Server {
	return &Server{
		dispatcher: dispatcher,
		mailbox:    mbox,
		engine:     engine,
		logger:     logx.NewLogger("http"),
	}
}

// Register attaches all routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/enqueue", s.handleEnqueue)
	mux.HandleFunc("/api/poll", s.handlePoll)
	mux.HandleFunc("/api/pending", s.handlePending)
	mux.HandleFunc("/api/inventory", s.handleInventory)
	mux.HandleFunc("/api/audit", s.handleAudit)
	mux.HandleFunc("/api/admin/decide", s.handleDecide)
	mux.HandleFunc("/api/admin/resolve", s.handleResolve)
	mux.HandleFunc("/api/admin/restock", s.handleRestock)
	mux.HandleFunc("/api/admin/items", s.handleItems)
}

type enqueueRequest struct {
	Persona     string `json:"persona"`
	Payload     string `json:"payload"`
	TaskName    string `json:"task_name"`
	RequesterID string `json:"requester_id"`
	SessionRef  string `json:"session_ref,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	persona := proto.Persona(req.Persona)
	if persona != proto.PersonaRequester && persona != proto.PersonaSupervisor {
		writeError(w, http.StatusBadRequest, "persona must be requester or supervisor")
		return
	}
	if req.Payload == "" || req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "payload and requester_id are required")
		return
	}

	task := proto.NewTask(persona, req.Payload, req.TaskName, req.RequesterID)
	task.SessionRef = req.SessionRef
	s.enqueue(w, task)
}

// enqueue submits a task and writes the standard queued/backpressure
// response.
func (s *Server) enqueue(w http.ResponseWriter, task *proto.Task) {
	switch err := s.dispatcher.Enqueue(task); {
	case errors.Is(err, dispatch.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "queue is full, try again shortly")
	case err != nil:
		s.logger.Error("enqueue failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "task_id": task.ID})
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	requesterID := r.URL.Query().Get("requester_id")
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "requester_id is required")
		return
	}
	results := s.mailbox.PopAll(requesterID)
	if results == nil {
		results = []proto.JobResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	pending, err := s.engine.Pending()
	if err != nil {
		s.logger.Error("listing pending requests: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": pending})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	items, err := s.engine.Inventory()
	if err != nil {
		s.logger.Error("listing inventory: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	rows, err := s.engine.AuditLog(limit)
	if err != nil {
		s.logger.Error("reading audit log: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": rows})
}

type decideRequest struct {
	RequestID   int64  `json:"request_id"`
	Decision    string `json:"decision"` // approve | reject
	RequesterID string `json:"requester_id,omitempty"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var tool string
	switch req.Decision {
	case "approve":
		tool = proto.ToolApproveRequest
	case "reject":
		tool = proto.ToolRejectRequest
	default:
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}
	call := proto.NewToolCall(tool).Set("request_id", req.RequestID)
	s.enqueue(w, proto.NewDirectTask(proto.PersonaSupervisor, call, "decide", adminID(req.RequesterID)))
}

type resolveRequest struct {
	RequestID        int64   `json:"request_id"`
	BufferMultiplier float64 `json:"buffer_multiplier,omitempty"`
	RequesterID      string  `json:"requester_id,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	call := proto.NewToolCall(proto.ToolResolveAction).Set("request_id", req.RequestID)
	if req.BufferMultiplier > 0 {
		call.Set("buffer_multiplier", req.BufferMultiplier)
	}
	s.enqueue(w, proto.NewDirectTask(proto.PersonaSupervisor, call, "resolve", adminID(req.RequesterID)))
}

type restockRequest struct {
	ItemName    string `json:"item_name"`
	Quantity    int    `json:"quantity"`
	RequesterID string `json:"requester_id,omitempty"`
}

func (s *Server) handleRestock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ItemName == "" || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "item_name and a positive quantity are required")
		return
	}
	call := proto.NewToolCall(proto.ToolRestockItem).
		Set("item_name", req.ItemName).Set("quantity", req.Quantity)
	s.enqueue(w, proto.NewDirectTask(proto.PersonaSupervisor, call, "restock", adminID(req.RequesterID)))
}

type itemsRequest struct {
	Action      string `json:"action"` // add | delete
	ItemName    string `json:"item_name"`
	Quantity    int    `json:"quantity,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req itemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ItemName == "" {
		writeError(w, http.StatusBadRequest, "item_name is required")
		return
	}
	var call *proto.ToolCall
	switch req.Action {
	case "add":
		if req.Quantity < 0 {
			writeError(w, http.StatusBadRequest, "quantity must not be negative")
			return
		}
		call = proto.NewToolCall(proto.ToolAddItem).
			Set("item_name", req.ItemName).Set("quantity", req.Quantity)
	case "delete":
		call = proto.NewToolCall(proto.ToolDeleteItem).Set("item_name", req.ItemName)
	default:
		writeError(w, http.StatusBadRequest, "action must be add or delete")
		return
	}
	s.enqueue(w, proto.NewDirectTask(proto.PersonaSupervisor, call, "items", adminID(req.RequesterID)))
}

func adminID(requesterID string) string {
	if requesterID == "" {
		return "admin"
	}
	return requesterID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
