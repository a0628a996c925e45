package alloc

import (
	"errors"
	"fmt"
	"strings"

	"relief/pkg/persistence"
	"relief/pkg/proto"
)

// Executor runs interpreter tool calls against the allocation engine and
// renders their outcomes as operator-facing text. Like the engine itself
// it must only be invoked from the dispatcher's worker loop.
type Executor struct {
	engine *Engine
}

// NewExecutor wraps an engine for tool-call execution.
func NewExecutor(engine *Engine) *Executor {
	return &Executor{engine: engine}
}

// Execute runs one tool call for the given persona. Validation problems
// come back as user-readable text, not errors; an error return means the
// record store itself failed.
func (x *Executor) Execute(persona proto.Persona, call *proto.ToolCall) (string, error) {
	if proto.SupervisorOnly(call.Name) && persona != proto.PersonaSupervisor {
		return "That command is reserved for supervisors.", nil
	}

	switch call.Name {
	case proto.ToolRequestRelief:
		return x.requestRelief(call)
	case proto.ToolCheckInventory:
		return x.checkInventory(call)
	case proto.ToolCheckRequestStatus:
		return x.checkStatus(call)
	case proto.ToolApproveRequest:
		return x.decide(call, DecisionApprove)
	case proto.ToolRejectRequest:
		return x.decide(call, DecisionReject)
	case proto.ToolResolveAction:
		return x.resolveAction(call)
	case proto.ToolRestockItem:
		return x.restock(call)
	case proto.ToolAddItem:
		return x.addItem(call)
	case proto.ToolDeleteItem:
		return x.deleteItem(call)
	case proto.ToolViewPending:
		return x.viewPending()
	case proto.ToolViewInventory:
		return x.viewInventory()
	case proto.ToolLowStockReport:
		return x.lowStock()
	case proto.ToolAuditLog:
		return x.auditLog(call)
	default:
		return fmt.Sprintf("Unknown command %q.", call.Name), nil
	}
}

func (x *Executor) requestRelief(call *proto.ToolCall) (string, error) {
	item := call.String("item_name")
	qty, err := call.Int("quantity")
	if err != nil || qty <= 0 {
		return "I need a positive whole-number quantity for that request.", nil
	}
	location := call.String("location")
	if location == "" {
		return "Where should the supplies be delivered? Please include a location.", nil
	}
	urgency := strings.ToUpper(call.String("urgency"))
	if urgency != persistence.UrgencyCritical {
		urgency = persistence.UrgencyNormal
	}

	outcome, err := x.engine.Fulfill(item, qty, location, urgency, call.String("session_ref"))
	if err != nil {
		return "", err
	}

	switch o := outcome.(type) {
	case FullFulfillment:
		return fmt.Sprintf("Dispatched %d %s to %s (request #%d). %d remain in stock.",
			qty, item, location, o.RequestID, o.NewStock), nil
	case PartialFulfillment:
		return fmt.Sprintf("We could only ship %d of the %d %s you asked for; they are on their way to %s. "+
			"The remaining %d are logged as request #%d and flagged for the supervisor.",
			o.Dispatched, qty, item, location, o.Shortfall, o.ShortfallID), nil
	case ZeroStock:
		return fmt.Sprintf("We are out of %s right now. Your request #%d is queued and will ship automatically when stock arrives.",
			item, o.RequestID), nil
	case PendingApproval:
		return fmt.Sprintf("That is a large order, so request #%d is awaiting supervisor approval. Check back with 'status %d'.",
			o.RequestID, o.RequestID), nil
	case UnknownItem:
		return fmt.Sprintf("We do not stock %q. The request was logged as #%d and flagged for the supervisor to source.",
			o.Normalized, o.RequestID), nil
	default:
		return "", fmt.Errorf("unhandled fulfillment outcome %T", outcome)
	}
}

func (x *Executor) checkInventory(call *proto.ToolCall) (string, error) {
	name, qty, err := x.engine.CheckStock(call.String("item_name"))
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Sprintf("We do not stock %q.", name), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %d in stock.", name, qty), nil
}

func (x *Executor) checkStatus(call *proto.ToolCall) (string, error) {
	id, err := call.Int("request_id")
	if err != nil {
		return "Which request id should I look up?", nil
	}
	req, err := x.engine.CheckStatus(int64(id))
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Sprintf("No request #%d on file.", id), nil
	}
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Request #%d: %d %s for %s, status %s.", req.ID, req.Quantity, req.ItemName, req.Location, req.Status)
	if req.Notes != "" {
		msg += " " + req.Notes + "."
	}
	return msg, nil
}

func (x *Executor) decide(call *proto.ToolCall, decision Decision) (string, error) {
	id, err := call.Int("request_id")
	if err != nil {
		return "Which request id should I decide?", nil
	}
	req, err := x.engine.Decide(int64(id), decision)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Sprintf("No request #%d on file.", id), nil
	case errors.Is(err, ErrInsufficientStock):
		return fmt.Sprintf("Cannot approve #%d: %v. Restock first, then approve again.", id, err), nil
	case err != nil:
		// Wrong-status attempts are validation problems for the operator.
		return err.Error(), nil
	}
	if decision == DecisionReject {
		return fmt.Sprintf("Request #%d rejected.", id), nil
	}
	stock, _, serr := x.engine.store.GetStock(req.ItemName)
	if serr != nil {
		return "", serr
	}
	return fmt.Sprintf("Request #%d approved: %d %s dispatched to %s. %d remain in stock.",
		id, req.Quantity, req.ItemName, req.Location, stock), nil
}

func (x *Executor) resolveAction(call *proto.ToolCall) (string, error) {
	id, err := call.Int("request_id")
	if err != nil {
		return "Which request id should I resolve?", nil
	}
	buffer, err := call.Float("buffer_multiplier")
	if err != nil || buffer < 1.0 {
		buffer = 1.5
	}
	out, err := x.engine.ResolveActionRequired(int64(id), buffer)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Sprintf("No request #%d on file.", id), nil
	case err != nil:
		return err.Error(), nil
	}
	return fmt.Sprintf("Resolved request #%d: restocked %d %s, dispatched %d, %d now in stock.",
		out.RequestID, out.Restocked, out.ItemName, out.Dispatched, out.NewStock), nil
}

func (x *Executor) restock(call *proto.ToolCall) (string, error) {
	qty, err := call.Int("quantity")
	if err != nil || qty <= 0 {
		return "How many units should I add? Restock needs a positive quantity.", nil
	}
	newStock, events, err := x.engine.Restock(call.String("item_name"), qty)
	if err != nil {
		return err.Error(), nil
	}
	msg := fmt.Sprintf("Restocked %s by %d; %d now in stock.", resolvedName(call.String("item_name"), events), qty, newStock)
	if n := len(events); n > 0 {
		msg += fmt.Sprintf(" %d queued request(s) were dispatched from the delivery.", n)
	}
	return msg, nil
}

// resolvedName prefers the canonical name from a dispatch event when the
// reconciliation touched one, since the operator may have typed a variant.
func resolvedName(typed string, events []DispatchEvent) string {
	if len(events) > 0 {
		return events[0].ItemName
	}
	return typed
}

func (x *Executor) addItem(call *proto.ToolCall) (string, error) {
	qty, err := call.Int("quantity")
	if err != nil {
		return "What initial quantity should the new item start with?", nil
	}
	name, events, err := x.engine.AddItem(call.String("item_name"), qty)
	if err != nil {
		return err.Error(), nil
	}
	msg := fmt.Sprintf("Added %s with %d in stock.", name, qty)
	if n := len(events); n > 0 {
		msg += fmt.Sprintf(" %d waiting request(s) were dispatched immediately.", n)
	}
	return msg, nil
}

func (x *Executor) deleteItem(call *proto.ToolCall) (string, error) {
	name, err := x.engine.DeleteItem(call.String("item_name"))
	if err != nil {
		return err.Error(), nil
	}
	return fmt.Sprintf("Removed %s from the catalog.", name), nil
}

func (x *Executor) viewPending() (string, error) {
	pending, err := x.engine.Pending()
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "No requests are waiting on a decision or stock.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d open request(s):\n", len(pending))
	for _, req := range pending {
		fmt.Fprintf(&b, "  #%d [%s/%s] %d %s for %s", req.ID, req.Status, req.Urgency, req.Quantity, req.ItemName, req.Location)
		if req.Notes != "" {
			fmt.Fprintf(&b, " (%s)", req.Notes)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (x *Executor) viewInventory() (string, error) {
	items, err := x.engine.Inventory()
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "The catalog is empty.", nil
	}
	var b strings.Builder
	b.WriteString("Current inventory:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "  %-20s %d\n", item.Name, item.Quantity)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (x *Executor) lowStock() (string, error) {
	low, threshold, err := x.engine.LowStockReport()
	if err != nil {
		return "", err
	}
	if len(low) == 0 {
		return fmt.Sprintf("No items are at or below the low-stock threshold of %d.", threshold), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s) at or below %d units:\n", len(low), threshold)
	for _, item := range low {
		fmt.Fprintf(&b, "  %-20s %d\n", item.Name, item.Quantity)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (x *Executor) auditLog(call *proto.ToolCall) (string, error) {
	limit, err := call.Int("limit")
	if err != nil {
		limit = 0
	}
	rows, err := x.engine.AuditLog(limit)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "The audit log is empty.", nil
	}
	var b strings.Builder
	b.WriteString("Recent closed activity:\n")
	for _, req := range rows {
		fmt.Fprintf(&b, "  #%d [%s] %d %s", req.ID, req.Status, req.Quantity, req.ItemName)
		if req.Notes != "" {
			fmt.Fprintf(&b, ": %s", req.Notes)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
