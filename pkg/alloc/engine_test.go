package alloc

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/pkg/config"
	"relief/pkg/persistence"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{messages: make(map[string][]string)}
}

func (n *recordingNotifier) Notify(sessionRef, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[sessionRef] = append(n.messages[sessionRef], message)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *persistence.Store, *recordingNotifier) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "alloc_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	notifier := newRecordingNotifier()
	engine := NewEngine(store, config.Default().Allocation, notifier)
	return engine, store, notifier
}

func stockOf(t *testing.T, store *persistence.Store, name string) int {
	t.Helper()
	qty, ok, err := store.GetStock(name)
	require.NoError(t, err)
	require.True(t, ok)
	return qty
}

func TestFulfillFull(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	out, err := engine.Fulfill("water bottles", 5, "Sector 9", "", "")
	require.NoError(t, err)
	full, ok := out.(FullFulfillment)
	require.True(t, ok, "expected FullFulfillment, got %T", out)
	assert.Equal(t, 95, full.NewStock)
	assert.Equal(t, 95, stockOf(t, store, "water_bottles"))

	req, err := store.GetRequest(full.RequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusAIApproved, req.Status)
}

func TestFulfillPartialConservation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	require.NoError(t, store.SetStock("water_bottles", 5))

	out, err := engine.Fulfill("water_bottles", 8, "Sector 9", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	partial, ok := out.(PartialFulfillment)
	require.True(t, ok, "expected PartialFulfillment, got %T", out)

	assert.Equal(t, 5, partial.Dispatched)
	assert.Equal(t, 3, partial.Shortfall)
	assert.Equal(t, 8, partial.Dispatched+partial.Shortfall)
	assert.Equal(t, 0, stockOf(t, store, "water_bottles"))

	shortfall, err := store.GetRequest(partial.ShortfallID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusActionRequired, shortfall.Status)
	assert.Equal(t, 3, shortfall.Quantity)
}

func TestFulfillZeroStock(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	require.NoError(t, store.SetStock("tents", 0))

	out, err := engine.Fulfill("tents", 4, "North Camp", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	zero, ok := out.(ZeroStock)
	require.True(t, ok, "expected ZeroStock, got %T", out)

	req, err := store.GetRequest(zero.RequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPendingDispatch, req.Status)
	assert.Equal(t, 0, stockOf(t, store, "tents"))
}

func TestFulfillUnknownItem(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	out, err := engine.Fulfill("Satellite Phones", 2, "Sector 1", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	unknown, ok := out.(UnknownItem)
	require.True(t, ok, "expected UnknownItem, got %T", out)
	assert.Equal(t, "satellite_phones", unknown.Normalized)

	req, err := store.GetRequest(unknown.RequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusActionRequired, req.Status)

	// No stock mutated anywhere.
	items, err := store.AllItems()
	require.NoError(t, err)
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	assert.Equal(t, 100+50+10+30+200+60+60, total)
}

func TestFulfillAutoApprovalThreshold(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	out, err := engine.Fulfill("batteries", 11, "Sector 2", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	pending, ok := out.(PendingApproval)
	require.True(t, ok, "expected PendingApproval, got %T", out)

	req, err := store.GetRequest(pending.RequestID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPending, req.Status)
	assert.Equal(t, 200, stockOf(t, store, "batteries"), "holding for approval must not touch stock")

	// At the limit exactly, dispatch proceeds.
	out, err = engine.Fulfill("batteries", 10, "Sector 2", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	_, ok = out.(FullFulfillment)
	assert.True(t, ok, "expected FullFulfillment, got %T", out)
}

func TestFulfillCriticalBypassesApproval(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	out, err := engine.Fulfill("batteries", 50, "Field Hospital", persistence.UrgencyCritical, "")
	require.NoError(t, err)
	full, ok := out.(FullFulfillment)
	require.True(t, ok, "expected FullFulfillment, got %T", out)
	assert.Equal(t, 150, full.NewStock)
	assert.Equal(t, 150, stockOf(t, store, "batteries"))
}

func TestStockNeverNegative(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	require.NoError(t, store.SetStock("blankets", 7))

	for i := 0; i < 6; i++ {
		_, err := engine.Fulfill("blankets", 3, "Sector 3", persistence.UrgencyNormal, "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stockOf(t, store, "blankets"), 0)
	}
}

func TestDecideRejectIdempotence(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	id, err := store.CreateRequest(&persistence.Request{
		ItemName: "batteries", Quantity: 30, Location: "Sector 5",
		Status: persistence.StatusPending, Urgency: persistence.UrgencyNormal,
	})
	require.NoError(t, err)

	req, err := engine.Decide(id, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusRejected, req.Status)

	// Second reject is an error, not a second transition.
	_, err = engine.Decide(id, DecisionReject)
	require.Error(t, err)
	stored, err := store.GetRequest(id)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusRejected, stored.Status)
}

func TestDecideApproveStockRecheck(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	id, err := store.CreateRequest(&persistence.Request{
		ItemName: "medical_kits", Quantity: 8, Location: "Field Hospital",
		Status: persistence.StatusPending, Urgency: persistence.UrgencyNormal,
	})
	require.NoError(t, err)

	// Stock dropped below the request after it queued.
	require.NoError(t, store.SetStock("medical_kits", 3))
	_, err = engine.Decide(id, DecisionApprove)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	stored, err := store.GetRequest(id)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPending, stored.Status, "failed approval must leave the request PENDING")

	require.NoError(t, store.SetStock("medical_kits", 10))
	req, err := engine.Decide(id, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusApprovedManual, req.Status)
	assert.Equal(t, 2, stockOf(t, store, "medical_kits"))
}

func TestReconcileFIFOFairness(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	require.NoError(t, store.SetStock("tents", 0))

	outA, err := engine.Fulfill("tents", 4, "Camp A", persistence.UrgencyNormal, "sess-a")
	require.NoError(t, err)
	outB, err := engine.Fulfill("tents", 4, "Camp B", persistence.UrgencyCritical, "sess-b")
	require.NoError(t, err)
	idA := outA.(ZeroStock).RequestID
	idB := outB.(ZeroStock).RequestID

	// Enough for exactly one: A ships in full even though B is CRITICAL.
	_, err = store.IncrementStock("tents", 4)
	require.NoError(t, err)
	events, err := engine.ReconcileOnRestock("tents")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, idA, events[0].RequestID)
	assert.True(t, events[0].Full())

	reqA, err := store.GetRequest(idA)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusActionTaken, reqA.Status)
	reqB, err := store.GetRequest(idB)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPendingDispatch, reqB.Status)

	assert.Len(t, notifier.messages["sess-a"], 1)
	assert.Empty(t, notifier.messages["sess-b"])
}

func TestReconcilePartialSpawnsContinuation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	require.NoError(t, store.SetStock("tents", 0))

	out, err := engine.Fulfill("tents", 10, "Camp A", persistence.UrgencyNormal, "sess-a")
	require.NoError(t, err)
	id := out.(ZeroStock).RequestID

	_, err = store.IncrementStock("tents", 6)
	require.NoError(t, err)
	events, err := engine.ReconcileOnRestock("tents")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.False(t, ev.Full())
	assert.Equal(t, 6, ev.Dispatched)
	assert.Equal(t, 4, ev.Remainder)
	require.NotZero(t, ev.ContinuationID)

	orig, err := store.GetRequest(id)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPartial, orig.Status)

	cont, err := store.GetRequest(ev.ContinuationID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPendingDispatch, cont.Status)
	assert.Equal(t, 4, cont.Quantity)
	assert.Equal(t, "sess-a", cont.SessionRef)
	assert.Equal(t, 0, stockOf(t, store, "tents"))
}

func TestResolveActionRequiredBuffer(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	require.NoError(t, store.SetStock("water_bottles", 5))

	out, err := engine.Fulfill("water_bottles", 8, "Sector 9", persistence.UrgencyNormal, "sess-9")
	require.NoError(t, err)
	shortfallID := out.(PartialFulfillment).ShortfallID

	resolved, err := engine.ResolveActionRequired(shortfallID, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 5, resolved.Restocked, "ceil(3*1.5)")
	assert.Equal(t, 3, resolved.Dispatched)
	assert.Equal(t, 2, resolved.NewStock)
	assert.Equal(t, 2, stockOf(t, store, "water_bottles"))

	req, err := store.GetRequest(shortfallID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusActionTaken, req.Status)
	assert.NotEmpty(t, notifier.messages["sess-9"])

	// Only ACTION_REQUIRED can be resolved.
	_, err = engine.ResolveActionRequired(shortfallID, 1.5)
	assert.Error(t, err)

	_, err = engine.ResolveActionRequired(shortfallID, 0.5)
	assert.Error(t, err, "buffer below 1.0 rejected")
}

func TestResolveCreatesMissingItem(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	out, err := engine.Fulfill("generators", 2, "Sector 1", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	id := out.(UnknownItem).RequestID

	resolved, err := engine.ResolveActionRequired(id, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 4, resolved.Restocked)
	assert.Equal(t, 2, resolved.NewStock)
	assert.Equal(t, 2, stockOf(t, store, "generators"))
}

func TestRestockReconciles(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	require.NoError(t, store.SetStock("flashlights", 0))

	out, err := engine.Fulfill("flashlights", 10, "Sector 2", persistence.UrgencyNormal, "")
	require.NoError(t, err)
	id := out.(ZeroStock).RequestID

	newStock, events, err := engine.Restock("flashlights", 25)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].RequestID)
	assert.Equal(t, 15, newStock)

	_, _, err = engine.Restock("hovercraft", 5)
	assert.Error(t, err, "restock requires a known item")
}

func TestAddDeleteItemAndLowStock(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	name, events, err := engine.AddItem("Solar Chargers", 15)
	require.NoError(t, err)
	assert.Equal(t, "solar_chargers", name)
	assert.Empty(t, events)

	low, threshold, err := engine.LowStockReport()
	require.NoError(t, err)
	assert.Equal(t, 20, threshold)
	names := make([]string, 0, len(low))
	for _, item := range low {
		names = append(names, item.Name)
	}
	assert.Contains(t, names, "medical_kits")
	assert.Contains(t, names, "solar_chargers")
	assert.NotContains(t, names, "batteries")

	_, err = engine.DeleteItem("solar chargers")
	require.NoError(t, err)
	_, ok, err := store.GetStock("solar_chargers")
	require.NoError(t, err)
	assert.False(t, ok)
}
