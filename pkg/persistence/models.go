package persistence

import "time"

// InventoryItem is one row of the inventory table. The item name is the
// canonical key; quantity is never negative.
type InventoryItem struct {
	Name     string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

// Request is one row of the requests table. Rows are never deleted; they are
// the audit trail.
type Request struct {
	ID         int64     `json:"id"`
	ItemName   string    `json:"item_name"`
	Quantity   int       `json:"quantity"`
	Location   string    `json:"location"`
	Status     string    `json:"status"`
	Urgency    string    `json:"urgency"`
	Notes      string    `json:"notes"`
	SessionRef string    `json:"session_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Request status constants.
const (
	StatusPending         = "PENDING"          // awaiting supervisor decision
	StatusAIApproved      = "AI_APPROVED"      // fulfilled automatically
	StatusApprovedManual  = "APPROVED_MANUAL"  // fulfilled by supervisor decision
	StatusRejected        = "REJECTED"         // denied, terminal
	StatusPendingDispatch = "PENDING_DISPATCH" // zero stock at request time, queued
	StatusActionRequired  = "ACTION_REQUIRED"  // shortfall or structural gap
	StatusPartial         = "PARTIAL"          // partially served by a reconciliation
	StatusActionTaken     = "ACTION_TAKEN"     // terminal resolution
	StatusFlagged         = "FLAGGED"          // system note, non-actionable
)

// Urgency constants.
const (
	UrgencyNormal   = "NORMAL"
	UrgencyCritical = "CRITICAL"
)

// SystemNoteItem is the item_name used for non-actionable system log rows.
const SystemNoteItem = "SYSTEM_NOTE"

// openStatuses are the statuses a supervisor still has to act on.
var openStatuses = []string{StatusPending, StatusActionRequired, StatusPendingDispatch}

// IsValidStatus checks a status string against the known set.
func IsValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusAIApproved, StatusApprovedManual, StatusRejected,
		StatusPendingDispatch, StatusActionRequired, StatusPartial,
		StatusActionTaken, StatusFlagged:
		return true
	}
	return false
}

// IsOpenStatus reports whether a status still needs supervisor attention.
func IsOpenStatus(status string) bool {
	for _, s := range openStatuses {
		if s == status {
			return true
		}
	}
	return false
}
