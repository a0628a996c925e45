// Package alloc implements the inventory allocation state machine: full,
// partial, and zero-stock fulfillment, supervisor decisions, and
// restock-triggered reconciliation of queued demand.
//
// Engine methods do no internal locking. Correctness relies on every
// mutating call running inside the dispatcher's single worker loop.
package alloc

import (
	"errors"
	"fmt"
	"math"

	"relief/pkg/config"
	"relief/pkg/logx"
	"relief/pkg/persistence"
	"relief/pkg/resolver"
)

// Decision is a supervisor's verdict on a PENDING request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ErrInsufficientStock is returned by Decide when stock dropped below the
// request's quantity between queueing and approval. The request stays
// PENDING so the supervisor can re-decide after a restock.
var ErrInsufficientStock = errors.New("insufficient stock")

// Notifier delivers best-effort messages to a requester's session. A nil
// or failing notifier never affects allocation state.
type Notifier interface {
	Notify(sessionRef, message string) error
}

// Engine is the allocation state machine over the record store.
type Engine struct {
	store    *persistence.Store
	resolver *resolver.Resolver
	notifier Notifier
	cfg      config.AllocationConfig
	logger   *logx.Logger
}

// NewEngine creates an allocation engine. notifier may be nil.
func NewEngine(store *persistence.Store, cfg config.AllocationConfig, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver.New(cfg.MatchThreshold),
		notifier: notifier,
		cfg:      cfg,
		logger:   logx.NewLogger("alloc"),
	}
}

// resolveItem matches a free-text mention against the live catalog. The
// catalog can grow at runtime, so it is re-read on every call.
func (e *Engine) resolveItem(mention string) (string, bool, error) {
	names, err := e.store.AllItemNames()
	if err != nil {
		return "", false, fmt.Errorf("loading item catalog: %w", err)
	}
	name, ok := e.resolver.Resolve(mention, names)
	return name, ok, nil
}

// Fulfill attempts to allocate stock for a new request.
func (e *Engine) Fulfill(itemName string, quantity int, location, urgency, sessionRef string) (Outcome, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	if urgency == "" {
		urgency = persistence.UrgencyNormal
	}

	name, found, err := e.resolveItem(itemName)
	if err != nil {
		return nil, err
	}
	if !found {
		normalized := resolver.Normalize(itemName)
		id, err := e.store.CreateRequest(&persistence.Request{
			ItemName: normalized, Quantity: quantity, Location: location,
			Status: persistence.StatusActionRequired, Urgency: urgency,
			Notes:      fmt.Sprintf("Unknown item %q: not in catalog, needs sourcing", normalized),
			SessionRef: sessionRef,
		})
		if err != nil {
			return nil, fmt.Errorf("recording unknown-item gap: %w", err)
		}
		if logErr := e.store.CreateSystemLog(fmt.Sprintf("Requester asked for unknown item %q (qty %d, %s)", normalized, quantity, location)); logErr != nil {
			e.logger.Warn("system log write failed: %v", logErr)
		}
		e.logger.Info("unknown item %q recorded as request %d", normalized, id)
		return UnknownItem{RequestID: id, Normalized: normalized}, nil
	}

	stock, _, err := e.store.GetStock(name)
	if err != nil {
		return nil, fmt.Errorf("reading stock for %s: %w", name, err)
	}

	if stock <= 0 {
		id, err := e.store.CreateRequest(&persistence.Request{
			ItemName: name, Quantity: quantity, Location: location,
			Status: persistence.StatusPendingDispatch, Urgency: urgency,
			Notes:      "Out of stock at request time, queued for restock",
			SessionRef: sessionRef,
		})
		if err != nil {
			return nil, fmt.Errorf("queueing zero-stock request: %w", err)
		}
		e.logger.Info("no stock for %s, request %d queued for dispatch", name, id)
		return ZeroStock{RequestID: id}, nil
	}

	// Large requests wait for a human unless the field marked them
	// CRITICAL. Applies only when stock could cover the request; a
	// shortfall goes through the partial path either way.
	if stock >= quantity && quantity > e.cfg.AutoApproveLimit && urgency != persistence.UrgencyCritical {
		id, err := e.store.CreateRequest(&persistence.Request{
			ItemName: name, Quantity: quantity, Location: location,
			Status: persistence.StatusPending, Urgency: urgency,
			Notes:      fmt.Sprintf("Quantity exceeds auto-approval limit of %d", e.cfg.AutoApproveLimit),
			SessionRef: sessionRef,
		})
		if err != nil {
			return nil, fmt.Errorf("queueing request for approval: %w", err)
		}
		e.logger.Info("request %d for %d %s held for approval", id, quantity, name)
		return PendingApproval{RequestID: id}, nil
	}

	if stock < quantity {
		shortfall := quantity - stock
		if err := e.store.SetStock(name, 0); err != nil {
			return nil, fmt.Errorf("zeroing stock for %s: %w", name, err)
		}
		dispatchedID, err := e.store.CreateRequest(&persistence.Request{
			ItemName: name, Quantity: stock, Location: location,
			Status: persistence.StatusAIApproved, Urgency: urgency,
			Notes:      fmt.Sprintf("Partial dispatch of %d against a request for %d", stock, quantity),
			SessionRef: sessionRef,
		})
		if err != nil {
			return nil, fmt.Errorf("recording partial dispatch: %w", err)
		}
		shortfallID, err := e.store.CreateRequest(&persistence.Request{
			ItemName: name, Quantity: shortfall, Location: location,
			Status: persistence.StatusActionRequired, Urgency: urgency,
			Notes:      "Partial fulfillment, needs buffered restock",
			SessionRef: sessionRef,
		})
		if err != nil {
			return nil, fmt.Errorf("recording shortfall: %w", err)
		}
		e.logger.Info("partial dispatch for %s: %d shipped, %d short (requests %d/%d)",
			name, stock, shortfall, dispatchedID, shortfallID)
		return PartialFulfillment{
			RequestID: dispatchedID, ShortfallID: shortfallID,
			Dispatched: stock, Shortfall: shortfall,
		}, nil
	}

	newStock := stock - quantity
	if err := e.store.SetStock(name, newStock); err != nil {
		return nil, fmt.Errorf("decrementing stock for %s: %w", name, err)
	}
	id, err := e.store.CreateRequest(&persistence.Request{
		ItemName: name, Quantity: quantity, Location: location,
		Status: persistence.StatusAIApproved, Urgency: urgency,
		Notes:      "Dispatched in full",
		SessionRef: sessionRef,
	})
	if err != nil {
		return nil, fmt.Errorf("recording fulfillment: %w", err)
	}
	e.logger.Info("dispatched %d %s to %s (request %d), %d left", quantity, name, location, id, newStock)
	return FullFulfillment{RequestID: id, NewStock: newStock}, nil
}

// Decide applies a supervisor verdict to a PENDING request. Approval
// re-checks stock because it may have changed since the request queued.
func (e *Engine) Decide(requestID int64, decision Decision) (*persistence.Request, error) {
	req, err := e.store.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != persistence.StatusPending {
		return nil, fmt.Errorf("request %d is %s, only PENDING requests can be decided", requestID, req.Status)
	}

	switch decision {
	case DecisionReject:
		if err := e.store.UpdateRequestStatus(requestID, persistence.StatusRejected, "Rejected by supervisor"); err != nil {
			return nil, err
		}
		req.Status = persistence.StatusRejected
		e.notify(req.SessionRef, fmt.Sprintf("Your request #%d for %d %s was rejected.", requestID, req.Quantity, req.ItemName))

	case DecisionApprove:
		stock, _, err := e.store.GetStock(req.ItemName)
		if err != nil {
			return nil, fmt.Errorf("reading stock for %s: %w", req.ItemName, err)
		}
		if stock < req.Quantity {
			return nil, fmt.Errorf("%w: request %d needs %d %s but only %d remain",
				ErrInsufficientStock, requestID, req.Quantity, req.ItemName, stock)
		}
		if err := e.store.SetStock(req.ItemName, stock-req.Quantity); err != nil {
			return nil, fmt.Errorf("decrementing stock for %s: %w", req.ItemName, err)
		}
		if err := e.store.UpdateRequestStatus(requestID, persistence.StatusApprovedManual, "Approved by supervisor"); err != nil {
			return nil, err
		}
		req.Status = persistence.StatusApprovedManual
		e.notify(req.SessionRef, fmt.Sprintf("Your request #%d for %d %s was approved and dispatched.", requestID, req.Quantity, req.ItemName))

	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	e.logger.Info("request %d decided: %s", requestID, req.Status)
	return req, nil
}

// ReconcileOnRestock dispatches queued demand for an item after a stock
// increase, oldest request first. Processing stops the moment stock runs
// out; a partially served record spawns a continuation for the remainder.
func (e *Engine) ReconcileOnRestock(itemName string) ([]DispatchEvent, error) {
	open, err := e.store.OpenRequestsForItem(itemName)
	if err != nil {
		return nil, fmt.Errorf("loading open requests for %s: %w", itemName, err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	stock, _, err := e.store.GetStock(itemName)
	if err != nil {
		return nil, fmt.Errorf("reading stock for %s: %w", itemName, err)
	}

	var events []DispatchEvent
	for _, req := range open {
		if stock <= 0 {
			break
		}
		if stock >= req.Quantity {
			stock -= req.Quantity
			if err := e.store.SetStock(itemName, stock); err != nil {
				return events, err
			}
			if err := e.store.UpdateRequestStatus(req.ID, persistence.StatusActionTaken, "Auto-dispatched on restock"); err != nil {
				return events, err
			}
			ev := DispatchEvent{
				RequestID: req.ID, ItemName: itemName,
				Dispatched: req.Quantity, SessionRef: req.SessionRef,
			}
			events = append(events, ev)
			e.notify(req.SessionRef, fmt.Sprintf("Good news: your queued request #%d for %d %s has been dispatched to %s.",
				req.ID, req.Quantity, itemName, req.Location))
			continue
		}

		// Not enough for this record. Ship what remains, spawn a
		// continuation for the rest, and stop.
		remainder := req.Quantity - stock
		dispatched := stock
		stock = 0
		if err := e.store.SetStock(itemName, 0); err != nil {
			return events, err
		}
		if err := e.store.UpdateRequestStatus(req.ID, persistence.StatusPartial,
			fmt.Sprintf("Auto-dispatched %d on restock, %d still owed", dispatched, remainder)); err != nil {
			return events, err
		}
		contID, err := e.store.CreateRequest(&persistence.Request{
			ItemName: itemName, Quantity: remainder, Location: req.Location,
			Status: persistence.StatusPendingDispatch, Urgency: req.Urgency,
			Notes:      fmt.Sprintf("Continuation of request %d", req.ID),
			SessionRef: req.SessionRef,
		})
		if err != nil {
			return events, fmt.Errorf("spawning continuation for request %d: %w", req.ID, err)
		}
		ev := DispatchEvent{
			RequestID: req.ID, ItemName: itemName,
			Dispatched: dispatched, Remainder: remainder,
			ContinuationID: contID, SessionRef: req.SessionRef,
		}
		events = append(events, ev)
		e.notify(req.SessionRef, fmt.Sprintf("Partial update: %d of your %d %s (request #%d) shipped; the remaining %d are queued as request #%d.",
			dispatched, req.Quantity, itemName, req.ID, remainder, contID))
		break
	}

	if len(events) > 0 {
		e.logger.Info("restock reconciliation for %s served %d request(s)", itemName, len(events))
	}
	return events, nil
}

// ResolveActionRequired closes an ACTION_REQUIRED request by restocking
// enough to cover it plus a buffer, then dispatching the original
// quantity. The buffer stays in inventory as surplus.
func (e *Engine) ResolveActionRequired(requestID int64, bufferMultiplier float64) (*ResolveOutcome, error) {
	if bufferMultiplier < 1.0 {
		return nil, fmt.Errorf("buffer multiplier must be >= 1.0, got %g", bufferMultiplier)
	}
	req, err := e.store.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != persistence.StatusActionRequired {
		return nil, fmt.Errorf("request %d is %s, only ACTION_REQUIRED requests can be resolved", requestID, req.Status)
	}

	restockAmount := int(math.Ceil(float64(req.Quantity) * bufferMultiplier))
	afterRestock, err := e.store.IncrementStock(req.ItemName, restockAmount)
	if err != nil {
		return nil, fmt.Errorf("restocking %s: %w", req.ItemName, err)
	}
	newStock := afterRestock - req.Quantity
	if err := e.store.SetStock(req.ItemName, newStock); err != nil {
		return nil, fmt.Errorf("dispatching from restock of %s: %w", req.ItemName, err)
	}
	if err := e.store.UpdateRequestStatus(requestID, persistence.StatusActionTaken,
		fmt.Sprintf("Resolved: restocked %d, dispatched %d", restockAmount, req.Quantity)); err != nil {
		return nil, err
	}
	e.notify(req.SessionRef, fmt.Sprintf("Your outstanding request #%d for %d %s has been filled and dispatched to %s.",
		requestID, req.Quantity, req.ItemName, req.Location))

	e.logger.Info("resolved request %d: +%d %s, dispatched %d, stock now %d",
		requestID, restockAmount, req.ItemName, req.Quantity, newStock)
	return &ResolveOutcome{
		RequestID: requestID, ItemName: req.ItemName,
		Restocked: restockAmount, Dispatched: req.Quantity, NewStock: newStock,
	}, nil
}

// Restock adds stock to an existing item and reconciles queued demand.
func (e *Engine) Restock(itemName string, delta int) (int, []DispatchEvent, error) {
	if delta <= 0 {
		return 0, nil, fmt.Errorf("restock delta must be positive, got %d", delta)
	}
	name, found, err := e.resolveItem(itemName)
	if err != nil {
		return 0, nil, err
	}
	if !found {
		return 0, nil, fmt.Errorf("unknown item %q: add it to the catalog first", resolver.Normalize(itemName))
	}
	newStock, err := e.store.IncrementStock(name, delta)
	if err != nil {
		return 0, nil, fmt.Errorf("restocking %s: %w", name, err)
	}
	events, err := e.ReconcileOnRestock(name)
	if err != nil {
		return newStock, events, err
	}
	if len(events) > 0 {
		// Reconciliation spent some of the delivery.
		stock, _, err := e.store.GetStock(name)
		if err != nil {
			return newStock, events, err
		}
		newStock = stock
	}
	return newStock, events, nil
}

// CheckStock reports the stock level for a free-text item mention.
func (e *Engine) CheckStock(itemName string) (string, int, error) {
	name, found, err := e.resolveItem(itemName)
	if err != nil {
		return "", 0, err
	}
	if !found {
		return resolver.Normalize(itemName), 0, persistence.ErrNotFound
	}
	qty, _, err := e.store.GetStock(name)
	return name, qty, err
}

// CheckStatus returns the stored request for a status lookup.
func (e *Engine) CheckStatus(requestID int64) (*persistence.Request, error) {
	return e.store.GetRequest(requestID)
}

// AddItem registers a new catalog item, then reconciles in case queued
// demand already references its canonical name.
func (e *Engine) AddItem(itemName string, quantity int) (string, []DispatchEvent, error) {
	name := resolver.Normalize(itemName)
	if name == "" {
		return "", nil, fmt.Errorf("item name must not be empty")
	}
	if quantity < 0 {
		return "", nil, fmt.Errorf("initial quantity must not be negative, got %d", quantity)
	}
	if err := e.store.AddItem(name, quantity); err != nil {
		return "", nil, fmt.Errorf("adding %s: %w", name, err)
	}
	var events []DispatchEvent
	if quantity > 0 {
		var err error
		events, err = e.ReconcileOnRestock(name)
		if err != nil {
			return name, events, err
		}
	}
	return name, events, nil
}

// DeleteItem removes an item from the catalog. Historical requests keep
// the name; open requests for it will sit until the item is re-added.
func (e *Engine) DeleteItem(itemName string) (string, error) {
	name, found, err := e.resolveItem(itemName)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("unknown item %q", resolver.Normalize(itemName))
	}
	if err := e.store.DeleteItem(name); err != nil {
		return "", err
	}
	e.logger.Info("deleted item %s from catalog", name)
	return name, nil
}

// LowStockReport lists items at or below the configured threshold.
func (e *Engine) LowStockReport() ([]persistence.InventoryItem, int, error) {
	items, err := e.store.AllItems()
	if err != nil {
		return nil, 0, err
	}
	var low []persistence.InventoryItem
	for _, item := range items {
		if item.Quantity <= e.cfg.LowStockThreshold {
			low = append(low, item)
		}
	}
	return low, e.cfg.LowStockThreshold, nil
}

// Inventory lists the full catalog.
func (e *Engine) Inventory() ([]persistence.InventoryItem, error) {
	return e.store.AllItems()
}

// Pending lists requests still awaiting action.
func (e *Engine) Pending() ([]*persistence.Request, error) {
	return e.store.PendingRequests()
}

// AuditLog lists recently closed requests and system notes.
func (e *Engine) AuditLog(limit int) ([]*persistence.Request, error) {
	return e.store.AuditLog(limit)
}

func (e *Engine) notify(sessionRef, message string) {
	if e.notifier == nil || sessionRef == "" {
		return
	}
	if err := e.notifier.Notify(sessionRef, message); err != nil {
		e.logger.Warn("notification to %s failed: %v", sessionRef, err)
	}
}
