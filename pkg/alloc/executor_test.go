package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/pkg/persistence"
	"relief/pkg/proto"
)

func TestExecuteRequestRelief(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	x := NewExecutor(engine)

	call := proto.NewToolCall(proto.ToolRequestRelief).
		Set("item_name", "water bottles").
		Set("quantity", 5).
		Set("location", "Sector 9")
	msg, err := x.Execute(proto.PersonaRequester, call)
	require.NoError(t, err)
	assert.Contains(t, msg, "Dispatched 5")
	assert.Contains(t, msg, "95 remain")
}

func TestExecuteRequestValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	x := NewExecutor(engine)

	msg, err := x.Execute(proto.PersonaRequester, proto.NewToolCall(proto.ToolRequestRelief).
		Set("item_name", "blankets").Set("quantity", 0).Set("location", "Sector 1"))
	require.NoError(t, err)
	assert.Contains(t, msg, "positive")

	msg, err = x.Execute(proto.PersonaRequester, proto.NewToolCall(proto.ToolRequestRelief).
		Set("item_name", "blankets").Set("quantity", 2))
	require.NoError(t, err)
	assert.Contains(t, msg, "location")
}

func TestExecuteSupervisorGate(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	x := NewExecutor(engine)

	msg, err := x.Execute(proto.PersonaRequester, proto.NewToolCall(proto.ToolRestockItem).
		Set("item_name", "tents").Set("quantity", 5))
	require.NoError(t, err)
	assert.Contains(t, msg, "supervisor")
}

func TestExecuteDecideFlow(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	x := NewExecutor(engine)

	id, err := store.CreateRequest(&persistence.Request{
		ItemName: "batteries", Quantity: 30, Location: "Sector 5",
		Status: persistence.StatusPending, Urgency: persistence.UrgencyNormal,
	})
	require.NoError(t, err)

	msg, err := x.Execute(proto.PersonaSupervisor, proto.NewToolCall(proto.ToolApproveRequest).
		Set("request_id", id))
	require.NoError(t, err)
	assert.Contains(t, msg, "approved")
	assert.Contains(t, msg, "170 remain")

	msg, err = x.Execute(proto.PersonaSupervisor, proto.NewToolCall(proto.ToolRejectRequest).
		Set("request_id", id))
	require.NoError(t, err)
	assert.Contains(t, msg, "only PENDING")

	msg, err = x.Execute(proto.PersonaSupervisor, proto.NewToolCall(proto.ToolApproveRequest).
		Set("request_id", 9999))
	require.NoError(t, err)
	assert.Contains(t, msg, "No request")
}

func TestExecuteViews(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	x := NewExecutor(engine)

	msg, err := x.Execute(proto.PersonaSupervisor, proto.NewToolCall(proto.ToolViewInventory))
	require.NoError(t, err)
	assert.Contains(t, msg, "water_bottles")

	msg, err = x.Execute(proto.PersonaSupervisor, proto.NewToolCall(proto.ToolViewPending))
	require.NoError(t, err)
	assert.Contains(t, msg, "No requests")

	msg, err = x.Execute(proto.PersonaSupervisor, proto.NewToolCall(proto.ToolLowStockReport))
	require.NoError(t, err)
	assert.Contains(t, msg, "medical_kits")
}

func TestExecuteUnknownTool(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	x := NewExecutor(engine)

	msg, err := x.Execute(proto.PersonaSupervisor, proto.NewToolCall("launch_rockets"))
	require.NoError(t, err)
	assert.Contains(t, msg, "Unknown command")
}
