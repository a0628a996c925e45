package interp

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"relief/pkg/logx"
	"relief/pkg/proto"
)

const requesterInstruction = `You are the intake assistant for a relief supply
coordination center. Field teams describe what they need in plain language.
Map every message to exactly one of the provided tools. Quantities must be
positive integers. If the message names no quantity, ask for one in plain
text instead of guessing.`

const supervisorInstruction = `You are the operations assistant for a relief
supply coordination center supervisor. The supervisor reviews pending
requests, decides them, restocks inventory, and manages the item catalog.
Map every command to exactly one of the provided tools.`

// GeminiInterpreter maps operator text to tool calls via the Gemini API.
// The genai client needs a context, so it is created lazily on first use.
type GeminiInterpreter struct {
	client *genai.Client
	apiKey string
	model  string
	logger *logx.Logger
}

// NewGemini returns a Gemini-backed interpreter for the given model.
func NewGemini(apiKey, model string) *GeminiInterpreter {
	return &GeminiInterpreter{
		apiKey: apiKey,
		model:  model,
		logger: logx.NewLogger("gemini"),
	}
}

// Interpret implements Interpreter.
func (g *GeminiInterpreter) Interpret(ctx context.Context, persona proto.Persona, text string) (Result, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return Result{}, Classify(fmt.Errorf("creating Gemini client: %w", err))
		}
		g.client = client
	}

	instruction := requesterInstruction
	if persona == proto.PersonaSupervisor {
		instruction = supervisorInstruction
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		},
		Tools: []*genai.Tool{
			{FunctionDeclarations: declarationsFor(persona)},
		},
		// Gemini may return empty responses when tool use is optional, so
		// force it to pick one of the declared tools.
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAny,
			},
		},
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: text}}},
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Result{}, Classify(err)
	}
	if result == nil {
		return Result{}, NewError(ErrorTypeTransient, "empty response from Gemini API")
	}

	out := Result{Reply: result.Text()}
	if calls := result.FunctionCalls(); len(calls) > 0 {
		call := calls[0]
		g.logger.Debug("model selected tool %s", call.Name)
		out.Call = &proto.ToolCall{Name: call.Name, Args: call.Args}
	}
	return out, nil
}

// declarationsFor returns the tool declarations exposed to a persona.
// Requesters see intake tools only; supervisors see the full surface.
func declarationsFor(persona proto.Persona) []*genai.FunctionDeclaration {
	itemProp := &genai.Schema{Type: genai.TypeString, Description: "Item name as the operator wrote it"}
	qtyProp := &genai.Schema{Type: genai.TypeInteger, Description: "Positive integer quantity"}
	idProp := &genai.Schema{Type: genai.TypeInteger, Description: "Request id"}

	requester := []*genai.FunctionDeclaration{
		{
			Name:        proto.ToolRequestRelief,
			Description: "Submit a relief supply request for an item, quantity, delivery location, and urgency.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"item_name": itemProp,
					"quantity":  qtyProp,
					"location":  {Type: genai.TypeString, Description: "Delivery location"},
					"urgency":   {Type: genai.TypeString, Enum: []string{"NORMAL", "CRITICAL"}},
				},
				Required: []string{"item_name", "quantity", "location"},
			},
		},
		{
			Name:        proto.ToolCheckInventory,
			Description: "Look up the current stock level of one item.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"item_name": itemProp},
				Required:   []string{"item_name"},
			},
		},
		{
			Name:        proto.ToolCheckRequestStatus,
			Description: "Look up the status of a previously submitted request by id.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"request_id": idProp},
				Required:   []string{"request_id"},
			},
		},
	}
	if persona != proto.PersonaSupervisor {
		return requester
	}

	supervisor := []*genai.FunctionDeclaration{
		{
			Name:        proto.ToolApproveRequest,
			Description: "Approve a pending request by id.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"request_id": idProp},
				Required:   []string{"request_id"},
			},
		},
		{
			Name:        proto.ToolRejectRequest,
			Description: "Reject a pending request by id.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"request_id": idProp,
					"reason":     {Type: genai.TypeString, Description: "Optional note recorded on the request"},
				},
				Required: []string{"request_id"},
			},
		},
		{
			Name:        proto.ToolResolveAction,
			Description: "Resolve an ACTION_REQUIRED request, dispatching stock set aside for it.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"request_id": idProp},
				Required:   []string{"request_id"},
			},
		},
		{
			Name:        proto.ToolRestockItem,
			Description: "Add quantity to an item's stock and reconcile waiting requests.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"item_name": itemProp,
					"quantity":  qtyProp,
				},
				Required: []string{"item_name", "quantity"},
			},
		},
		{
			Name:        proto.ToolAddItem,
			Description: "Add a new item to the catalog with an initial quantity.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"item_name": itemProp,
					"quantity":  {Type: genai.TypeInteger, Description: "Initial quantity, zero or more"},
				},
				Required: []string{"item_name", "quantity"},
			},
		},
		{
			Name:        proto.ToolDeleteItem,
			Description: "Remove an item from the catalog.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"item_name": itemProp},
				Required:   []string{"item_name"},
			},
		},
		{
			Name:        proto.ToolViewPending,
			Description: "List all requests still awaiting a decision or stock.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
		{
			Name:        proto.ToolViewInventory,
			Description: "List the full inventory with stock levels.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
		{
			Name:        proto.ToolLowStockReport,
			Description: "List items whose stock is at or below the low-stock threshold.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
		{
			Name:        proto.ToolAuditLog,
			Description: "Show recently closed requests and system notes.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"limit": {Type: genai.TypeInteger, Description: "Max rows, default 10"},
				},
			},
		},
	}
	return append(supervisor, requester[1], requester[2])
}
