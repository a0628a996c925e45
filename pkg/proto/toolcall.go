package proto

import (
	"fmt"
	"math"
	"strconv"
)

// Tool names form the fixed intent set the interpreter may produce. The
// allocation engine executes them; anything else is rejected.
const (
	ToolRequestRelief      = "request_relief"
	ToolCheckInventory     = "check_inventory"
	ToolCheckRequestStatus = "check_request_status"
	ToolApproveRequest     = "approve_request"
	ToolRejectRequest      = "reject_request"
	ToolResolveAction      = "resolve_action_required"
	ToolRestockItem        = "restock_item"
	ToolAddItem            = "add_item"
	ToolDeleteItem         = "delete_item"
	ToolViewPending        = "view_pending"
	ToolViewInventory      = "view_inventory"
	ToolLowStockReport     = "low_stock_report"
	ToolAuditLog           = "audit_log"
)

// SupervisorOnly reports whether a tool mutates inventory or decides requests
// and therefore must not be reachable from the requester persona.
func SupervisorOnly(name string) bool {
	switch name {
	case ToolApproveRequest, ToolRejectRequest, ToolResolveAction,
		ToolRestockItem, ToolAddItem, ToolDeleteItem,
		ToolLowStockReport, ToolAuditLog:
		return true
	}
	return false
}

// ToolCall is the interpreter's structured output: one intent plus arguments.
// Argument values arrive as JSON-decoded any values, so the accessors below
// normalize the usual string/float64/int variants.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func NewToolCall(name string) *ToolCall {
	return &ToolCall{Name: name, Args: make(map[string]any)}
}

func (c *ToolCall) Set(key string, value any) *ToolCall {
	if c.Args == nil {
		c.Args = make(map[string]any)
	}
	c.Args[key] = value
	return c
}

// String returns the string argument for key, or "".
func (c *ToolCall) String(key string) string {
	if v, ok := c.Args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Int returns the integer argument for key. JSON numbers decode as float64;
// numeric strings are also accepted because interpreter backends disagree on
// argument typing.
func (c *ToolCall) Int(key string) (int, error) {
	v, ok := c.Args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %q must be an integer, got %v", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("argument %q is not an integer: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("argument %q has unsupported type %T", key, v)
	}
}

// Float returns the float argument for key.
func (c *ToolCall) Float(key string) (float64, error) {
	v, ok := c.Args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q is not a number: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("argument %q has unsupported type %T", key, v)
	}
}

// Bool returns the boolean argument for key, defaulting to false when absent.
func (c *ToolCall) Bool(key string) bool {
	if v, ok := c.Args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(s)
			return err == nil && b
		}
	}
	return false
}
