package interp

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"relief/pkg/proto"
)

// RulesInterpreter is the offline backend: a deterministic keyword parser
// over the same intent set the model backend exposes. It keeps the pipeline
// runnable with no API key and gives tests a hermetic interpreter.
type RulesInterpreter struct{}

// NewRules returns the keyword-based interpreter.
func NewRules() *RulesInterpreter {
	return &RulesInterpreter{}
}

var (
	requestPattern = regexp.MustCompile(`(?i)^(?:request|need|send)\s+(\d+)\s+(.+?)(?:\s+(?:to|at|for)\s+(.+?))?(\s+urgent|\s+critical)?$`)
	idPattern      = regexp.MustCompile(`(\d+)`)
	restockPattern = regexp.MustCompile(`(?i)^restock\s+(.+?)\s+(?:by\s+)?(\d+)$`)
	addPattern     = regexp.MustCompile(`(?i)^add\s+(?:item\s+)?(.+?)\s+(\d+)$`)
)

// Interpret implements Interpreter. Unrecognized text gets a plain-text
// reply naming the commands this backend understands.
func (r *RulesInterpreter) Interpret(_ context.Context, persona proto.Persona, text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if call := r.parse(persona, trimmed, lower); call != nil {
		if proto.SupervisorOnly(call.Name) && persona != proto.PersonaSupervisor {
			return Result{Reply: "That command is reserved for supervisors."}, nil
		}
		return Result{Call: call}, nil
	}

	help := "Commands: request <qty> <item> to <location>, inventory <item>, status <id>."
	if persona == proto.PersonaSupervisor {
		help = "Commands: approve/reject/resolve <id>, restock <item> <qty>, " +
			"add/delete item, pending, inventory, low stock, audit."
	}
	return Result{Reply: "I did not understand that. " + help}, nil
}

func (r *RulesInterpreter) parse(persona proto.Persona, trimmed, lower string) *proto.ToolCall {
	switch {
	case lower == "pending" || strings.HasPrefix(lower, "view pending") || strings.HasPrefix(lower, "show pending"):
		return proto.NewToolCall(proto.ToolViewPending)
	case lower == "inventory" || lower == "view inventory" || lower == "show inventory":
		return proto.NewToolCall(proto.ToolViewInventory)
	case strings.Contains(lower, "low stock"):
		return proto.NewToolCall(proto.ToolLowStockReport)
	case strings.HasPrefix(lower, "audit"):
		call := proto.NewToolCall(proto.ToolAuditLog)
		if m := idPattern.FindString(lower); m != "" {
			n, _ := strconv.Atoi(m)
			call.Set("limit", n)
		}
		return call
	}

	if m := restockPattern.FindStringSubmatch(trimmed); m != nil {
		qty, _ := strconv.Atoi(m[2])
		return proto.NewToolCall(proto.ToolRestockItem).
			Set("item_name", m[1]).Set("quantity", qty)
	}
	if m := addPattern.FindStringSubmatch(trimmed); m != nil {
		qty, _ := strconv.Atoi(m[2])
		return proto.NewToolCall(proto.ToolAddItem).
			Set("item_name", m[1]).Set("quantity", qty)
	}
	if strings.HasPrefix(lower, "delete ") || strings.HasPrefix(lower, "remove ") {
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(
			trimmed[strings.Index(trimmed, " ")+1:], "item "), "Item "))
		if name != "" {
			return proto.NewToolCall(proto.ToolDeleteItem).Set("item_name", name)
		}
	}

	for prefix, tool := range map[string]string{
		"approve": proto.ToolApproveRequest,
		"reject":  proto.ToolRejectRequest,
		"resolve": proto.ToolResolveAction,
		"status":  proto.ToolCheckRequestStatus,
	} {
		if strings.HasPrefix(lower, prefix) {
			if m := idPattern.FindString(lower); m != "" {
				id, _ := strconv.Atoi(m)
				return proto.NewToolCall(tool).Set("request_id", id)
			}
		}
	}

	if strings.HasPrefix(lower, "check ") || strings.HasPrefix(lower, "stock ") ||
		strings.HasPrefix(lower, "how many ") {
		name := trimmed
		for _, p := range []string{"check inventory ", "check ", "stock ", "how many "} {
			if strings.HasPrefix(lower, p) {
				name = trimmed[len(p):]
				break
			}
		}
		name = strings.TrimSuffix(strings.TrimSpace(name), "?")
		name = strings.TrimSuffix(name, " do we have")
		if name != "" {
			return proto.NewToolCall(proto.ToolCheckInventory).Set("item_name", name)
		}
	}

	if m := requestPattern.FindStringSubmatch(trimmed); m != nil {
		qty, _ := strconv.Atoi(m[1])
		call := proto.NewToolCall(proto.ToolRequestRelief).
			Set("item_name", strings.TrimSpace(m[2])).
			Set("quantity", qty).
			Set("location", strings.TrimSpace(m[3]))
		if m[4] != "" {
			call.Set("urgency", "CRITICAL")
		}
		return call
	}
	return nil
}
