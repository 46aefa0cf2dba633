package seller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xymarket/node/internal/models"
	"github.com/xymarket/node/internal/task"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpServerName      = "xymarket-seller"
	mcpServerVersion   = "1.0.0"
)

// JSON-RPC error codes.
const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

// MCPServer exposes the node's tools over JSON-RPC 2.0 at POST /mcp.
// Transport errors and tool failures are both reported as JSON-RPC error
// objects with HTTP 200; agents never need to branch on HTTP status.
type MCPServer struct {
	exec   ExecutionService
	logger *slog.Logger
}

func NewMCPServer(exec ExecutionService, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPServer{exec: exec, logger: logger}
}

// Operations lists the tool ids for the operation registry so the pricing
// table can price individual tools.
func (s *MCPServer) Operations() []Operation {
	return []Operation{
		{Method: http.MethodPost, Pattern: mcpPath, ID: "hello_robot"},
		{Method: http.MethodPost, Pattern: mcpPath, ID: "get_analysis"},
		{Method: http.MethodPost, Pattern: mcpPath, ID: "execute_task"},
		{Method: http.MethodPost, Pattern: mcpPath, ID: "get_task_status"},
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handle serves POST /mcp.
func (s *MCPServer) Handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: rpcParseError, Message: "Parse error"},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.dispatch(r.Context(), &req))
}

func (s *MCPServer) dispatch(ctx context.Context, req *rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    mcpServerName,
				"version": mcpServerVersion,
			},
		}
	case "tools/list":
		resp.Result = map[string]any{"tools": toolDescriptors()}
	case "tools/call":
		result, rpcErr := s.callTool(ctx, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: rpcMethodNotFound, Message: "Method not found"}
	}
	return resp
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *MCPServer) callTool(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "Invalid params"}
	}
	s.logger.Info("mcp tool call", slog.String("tool", params.Name))

	switch params.Name {
	case "hello_robot":
		return textResult("hello"), nil

	case "get_analysis":
		var args struct {
			InputData string `json:"input_data"`
		}
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return nil, &rpcError{Code: rpcInvalidParams, Message: "Invalid params"}
			}
		}
		if args.InputData == "" {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "input_data is required"}
		}
		return textResult("Analysis result for: " + args.InputData), nil

	case "execute_task":
		return s.executeTaskTool(ctx, params.Arguments)

	case "get_task_status":
		return s.taskStatusTool(params.Arguments)

	default:
		return nil, &rpcError{Code: rpcInvalidParams, Message: "Unknown tool: " + params.Name}
	}
}

// executeTaskTool bridges tools/call into the execution engine with the
// same body validation as POST /execute.
func (s *MCPServer) executeTaskTool(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "Invalid params"}
	}
	if err := ValidateExecuteBody(generic); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: err.Error()}
	}

	var req models.ExecutionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "Invalid params"}
	}

	res, err := s.exec.CreateTask(ctx, req)
	if err != nil {
		s.logger.Error("mcp task creation failed", "error", err)
		return nil, &rpcError{Code: rpcServerError, Message: "Failed to start task execution"}
	}
	return jsonResult(res)
}

func (s *MCPServer) taskStatusTool(raw json.RawMessage) (any, *rpcError) {
	var args struct {
		TaskID      string `json:"task_id"`
		BuyerSecret string `json:"buyer_secret"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "Invalid params"}
		}
	}
	if args.TaskID == "" || args.BuyerSecret == "" {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "task_id and buyer_secret are required"}
	}

	res, err := s.exec.GetTaskStatus(args.TaskID, args.BuyerSecret)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return nil, &rpcError{Code: rpcServerError, Message: "Task not found or invalid secret: " + args.TaskID}
		}
		s.logger.Error("mcp task lookup failed", "task_id", args.TaskID, "error", err)
		return nil, &rpcError{Code: rpcServerError, Message: "Failed to load task"}
	}
	return jsonResult(res)
}

func textResult(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}

func jsonResult(v any) (map[string]any, *rpcError) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &rpcError{Code: rpcServerError, Message: "Failed to encode result"}
	}
	return textResult(string(b)), nil
}

func toolDescriptors() []map[string]any {
	return []map[string]any{
		{
			"name":        "hello_robot",
			"description": "A simple hello endpoint for MCP agents.",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			"name":        "get_analysis",
			"description": "Provides a detailed analysis for AI agents. Requires payment.",
			"inputSchema": map[string]any{
				"type":     "object",
				"required": []string{"input_data"},
				"properties": map[string]any{
					"input_data": map[string]any{"type": "string"},
				},
			},
		},
		{
			"name":        "execute_task",
			"description": "Start an asynchronous task; returns the task envelope with its buyer secret.",
			"inputSchema": map[string]any{
				"type":     "object",
				"required": []string{"task_description"},
				"properties": map[string]any{
					"task_description": map[string]any{"type": "string"},
					"context":          map[string]any{"type": "object"},
					"secrets":          map[string]any{"type": "object"},
				},
			},
		},
		{
			"name":        "get_task_status",
			"description": "Poll a task by id using the buyer secret from execute_task.",
			"inputSchema": map[string]any{
				"type":     "object",
				"required": []string{"task_id", "buyer_secret"},
				"properties": map[string]any{
					"task_id":      map[string]any{"type": "string"},
					"buyer_secret": map[string]any{"type": "string"},
				},
			},
		},
	}
}
