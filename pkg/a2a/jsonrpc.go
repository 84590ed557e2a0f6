package a2a

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidReq     = -32600
	ErrCodeNotFound       = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeTaskNotFound   = -32001
	ErrCodeTaskNotCancel  = -32002
	ErrCodeUnsupportedOp  = -32004
	ErrCodeContentTypeErr = -32005
)

func NewJSONRPCResponse(id any, result any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Result:  result,
	}
}

func NewJSONRPCError(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

// NewTaskRequest builds the JSON-RPC envelope for tasks/send or
// tasks/sendSubscribe. The request id mirrors the task id.
func NewTaskRequest(method, taskID string, sess Session, text string) (JSONRPCRequest, error) {
	params, err := json.Marshal(TaskSendParams{
		ID:                  taskID,
		SessionID:           sess.ID,
		Message:             TextMessage(RoleUser, text),
		AcceptedOutputModes: []string{PartTypeText},
	})
	if err != nil {
		return JSONRPCRequest{}, fmt.Errorf("a2a: marshaling params: %w", err)
	}
	return JSONRPCRequest{
		JSONRPC: jsonrpcVersion,
		ID:      taskID,
		Method:  method,
		Params:  params,
	}, nil
}
