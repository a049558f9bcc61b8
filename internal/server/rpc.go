package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/copyleftdev/setpoint/internal/advisor"
	apperrors "github.com/copyleftdev/setpoint/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// errInvalidParams marks parameter errors so they get codeInvalidParams.
type errInvalidParams struct{ err error }

func (e errInvalidParams) Error() string { return e.err.Error() }

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, rpcError{Code: codeParseError, Message: "Parse error"}, nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcError{Code: codeInvalidRequest, Message: "Invalid Request"}, request.ID)
		return
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "advisor.optimize":
		result, err = s.rpcOptimize(r.Context(), request.Params)
	case "advisor.pricing":
		result = s.engine.Pricing(r.Context())
	case "advisor.result":
		result, err = s.rpcResult(request.Params)
	default:
		s.respondWithError(w, rpcError{Code: codeMethodNotFound, Message: "Method not found"}, request.ID)
		return
	}

	if err != nil {
		var invalid errInvalidParams
		if stderrors.As(err, &invalid) {
			s.respondWithError(w, rpcError{Code: codeInvalidParams, Message: invalid.Error()}, request.ID)
			return
		}
		s.respondWithError(w, rpcError{
			Code:    codeServerError,
			Message: err.Error(),
			Data:    map[string]string{"kind": apperrors.KindOf(err).String()},
		}, request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams accepts params as an object or as a one-element array
// holding the object. Missing params leave v untouched.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return errInvalidParams{fmt.Errorf("invalid params: %v", err)}
		}
		switch len(list) {
		case 0:
			return nil
		case 1:
			raw = list[0]
		default:
			return errInvalidParams{fmt.Errorf("expected at most one parameter object, got %d", len(list))}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errInvalidParams{fmt.Errorf("invalid params: %v", err)}
	}
	return nil
}

// rpcOptimize handles advisor.optimize.
// Params: {"segment": "Clinkerization", "n_data": 50, "override_ranges": [...], "pricing": {...}}
func (s *Server) rpcOptimize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req advisor.Request
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	resp, err := s.optimize(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// rpcResult handles advisor.result.
// Params: {"id": "..."}
func (s *Server) rpcResult(params json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errInvalidParams{fmt.Errorf("id is required")}
	}
	resp, ok := s.results.Get(p.ID)
	if !ok {
		return nil, fmt.Errorf("optimization %s not found", p.ID)
	}
	return resp, nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, rpcErr rpcError, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  rpcErr.Code,
		"message": rpcErr.Message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	})
}
