package alloc

// Outcome is the result of a fulfillment attempt. Exactly one concrete
// type is returned per call.
type Outcome interface {
	outcome()
}

// FullFulfillment means the whole quantity shipped immediately.
type FullFulfillment struct {
	RequestID int64
	NewStock  int
}

// PartialFulfillment means stock covered part of the quantity. The
// dispatched portion shipped and the shortfall was recorded as a request
// needing supervisor action.
type PartialFulfillment struct {
	RequestID   int64 // fulfilled record for the dispatched portion
	ShortfallID int64 // ACTION_REQUIRED record for the remainder
	Dispatched  int
	Shortfall   int
}

// ZeroStock means no stock was available; the request was queued for
// automatic dispatch on the next restock.
type ZeroStock struct {
	RequestID int64
}

// UnknownItem means the item name did not resolve to anything in the
// catalog. Normalized carries the cleaned-up form for error messages.
type UnknownItem struct {
	RequestID  int64
	Normalized string
}

// PendingApproval means the quantity exceeded the auto-approval limit and
// the request awaits a supervisor decision.
type PendingApproval struct {
	RequestID int64
}

func (FullFulfillment) outcome()    {}
func (PartialFulfillment) outcome() {}
func (ZeroStock) outcome()          {}
func (UnknownItem) outcome()        {}
func (PendingApproval) outcome()    {}

// DispatchEvent records one dispatch performed during a restock
// reconciliation.
type DispatchEvent struct {
	RequestID      int64
	ItemName       string
	Dispatched     int
	Remainder      int   // 0 for a full dispatch
	ContinuationID int64 // new PENDING_DISPATCH record for the remainder, 0 if none
	SessionRef     string
}

// Full reports whether the event fully served its request.
func (e DispatchEvent) Full() bool {
	return e.Remainder == 0
}

// ResolveOutcome describes what resolving an ACTION_REQUIRED request did.
type ResolveOutcome struct {
	RequestID  int64
	ItemName   string
	Restocked  int // units added, including buffer
	Dispatched int // units shipped to the original requester
	NewStock   int // stock remaining after dispatch
}
