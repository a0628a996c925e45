package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/pkg/proto"
)

func interpret(t *testing.T, persona proto.Persona, text string) Result {
	t.Helper()
	res, err := NewRules().Interpret(context.Background(), persona, text)
	require.NoError(t, err)
	return res
}

func TestRulesRequestRelief(t *testing.T) {
	res := interpret(t, proto.PersonaRequester, "request 5 water bottles to Sector 4")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolRequestRelief, res.Call.Name)
	assert.Equal(t, "water bottles", res.Call.String("item_name"))
	qty, err := res.Call.Int("quantity")
	require.NoError(t, err)
	assert.Equal(t, 5, qty)
	assert.Equal(t, "Sector 4", res.Call.String("location"))
	assert.Empty(t, res.Call.String("urgency"))
}

func TestRulesRequestCritical(t *testing.T) {
	res := interpret(t, proto.PersonaRequester, "need 3 medical kits to North Camp critical")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolRequestRelief, res.Call.Name)
	assert.Equal(t, "CRITICAL", res.Call.String("urgency"))
}

func TestRulesCheckInventory(t *testing.T) {
	res := interpret(t, proto.PersonaRequester, "how many blankets do we have?")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolCheckInventory, res.Call.Name)
	assert.Equal(t, "blankets", res.Call.String("item_name"))
}

func TestRulesStatus(t *testing.T) {
	res := interpret(t, proto.PersonaRequester, "status 12")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolCheckRequestStatus, res.Call.Name)
	id, err := res.Call.Int("request_id")
	require.NoError(t, err)
	assert.Equal(t, 12, id)
}

func TestRulesSupervisorCommands(t *testing.T) {
	tests := []struct {
		text string
		tool string
	}{
		{"approve 3", proto.ToolApproveRequest},
		{"reject 7", proto.ToolRejectRequest},
		{"resolve 2", proto.ToolResolveAction},
		{"pending", proto.ToolViewPending},
		{"inventory", proto.ToolViewInventory},
		{"low stock report", proto.ToolLowStockReport},
		{"audit", proto.ToolAuditLog},
	}
	for _, tt := range tests {
		res := interpret(t, proto.PersonaSupervisor, tt.text)
		require.NotNil(t, res.Call, "text %q", tt.text)
		assert.Equal(t, tt.tool, res.Call.Name, "text %q", tt.text)
	}
}

func TestRulesRestockAndCatalog(t *testing.T) {
	res := interpret(t, proto.PersonaSupervisor, "restock water_bottles 50")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolRestockItem, res.Call.Name)
	qty, err := res.Call.Int("quantity")
	require.NoError(t, err)
	assert.Equal(t, 50, qty)

	res = interpret(t, proto.PersonaSupervisor, "add item tarps 10")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolAddItem, res.Call.Name)
	assert.Equal(t, "tarps", res.Call.String("item_name"))

	res = interpret(t, proto.PersonaSupervisor, "delete item tarps")
	require.NotNil(t, res.Call)
	assert.Equal(t, proto.ToolDeleteItem, res.Call.Name)
	assert.Equal(t, "tarps", res.Call.String("item_name"))
}

func TestRulesRequesterCannotUseSupervisorTools(t *testing.T) {
	res := interpret(t, proto.PersonaRequester, "approve 3")
	assert.Nil(t, res.Call)
	assert.Contains(t, res.Reply, "supervisor")
}

func TestRulesUnknownText(t *testing.T) {
	res := interpret(t, proto.PersonaRequester, "tell me a joke")
	assert.Nil(t, res.Call)
	assert.NotEmpty(t, res.Reply)
}
