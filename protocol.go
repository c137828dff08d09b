package devrun

import (
	"encoding/json"
	"fmt"
)

// RequestType tags a client to server message.
type RequestType string

// Request kinds understood by the authority.
const (
	TypeAuth    RequestType = "auth"
	TypeCreate  RequestType = "create"
	TypeSubmit  RequestType = "submit"
	TypeMove    RequestType = "move"
	TypeGetText RequestType = "getText"
)

// Request is the closed set of client to server payloads.
// Only the request types declared in this package implement it.
type Request interface {
	Type() RequestType
	sealed()
}

// AuthRequest authenticates a freshly opened connection.
type AuthRequest struct {
	Cookies string `json:"cookies"`
}

// CreateRequest starts a run.
type CreateRequest struct {
	Problem  string `json:"problem"`
	Category string `json:"category"`
}

// SubmitRequest ends a run.
type SubmitRequest struct {
	RunID string `json:"runId"`
}

// MoveRequest carries one batch of moves.
// File and Language are sampled when the batch is flushed and may be null.
type MoveRequest struct {
	RunID    string  `json:"runId"`
	File     *string `json:"file"`
	Language *string `json:"language"`
	Moves    []Move  `json:"moves"`
}

// GetTextRequest asks for the authoritative text of a run.
type GetTextRequest struct {
	RunID string `json:"runId"`
}

// CreateResult is the data of a successful create.
type CreateResult struct {
	RunID string `json:"runId"`
}

func (AuthRequest) Type() RequestType    { return TypeAuth }
func (CreateRequest) Type() RequestType  { return TypeCreate }
func (SubmitRequest) Type() RequestType  { return TypeSubmit }
func (MoveRequest) Type() RequestType    { return TypeMove }
func (GetTextRequest) Type() RequestType { return TypeGetText }

func (AuthRequest) sealed()    {}
func (CreateRequest) sealed()  {}
func (SubmitRequest) sealed()  {}
func (MoveRequest) sealed()    {}
func (GetTextRequest) sealed() {}

// Response is the single server to client envelope.
type Response struct {
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// EncodeRequest renders req as a flat frame: {...payload, type, requestId}.
func EncodeRequest(requestID string, req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", req.Type(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s request: %w", req.Type(), err)
	}

	fields["type"], _ = json.Marshal(req.Type())
	fields["requestId"], _ = json.Marshal(requestID)
	return json.Marshal(fields)
}

// DecodeRequest parses a client frame into its request id and typed payload.
// Frames that are not objects, lack a request id, carry an unknown type or
// miss a required field fail with ErrProtocol. The request id is returned
// whenever it could be read, so the caller can still answer.
func DecodeRequest(data []byte) (string, Request, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var requestID string
	if raw, ok := fields["requestId"]; ok {
		if err := json.Unmarshal(raw, &requestID); err != nil {
			return "", nil, fmt.Errorf("%w: requestId: %v", ErrProtocol, err)
		}
	}
	if requestID == "" {
		return "", nil, fmt.Errorf("%w: missing requestId", ErrProtocol)
	}

	var typ RequestType
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return requestID, nil, fmt.Errorf("%w: type: %v", ErrProtocol, err)
		}
	}

	var req Request
	var err error
	switch typ {
	case TypeAuth:
		req, err = decodeAs[AuthRequest](fields, data)
	case TypeCreate:
		req, err = decodeAs[CreateRequest](fields, data)
	case TypeSubmit:
		req, err = decodeAs[SubmitRequest](fields, data)
	case TypeMove:
		req, err = decodeAs[MoveRequest](fields, data)
	case TypeGetText:
		req, err = decodeAs[GetTextRequest](fields, data)
	default:
		return requestID, nil, fmt.Errorf("%w: unknown request type %q", ErrProtocol, typ)
	}
	return requestID, req, err
}

func decodeAs[T Request](fields map[string]json.RawMessage, data []byte) (Request, error) {
	var req T
	if missing := missingFields[T](fields); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s request missing %v", ErrProtocol, req.Type(), missing)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", ErrProtocol, req.Type(), err)
	}
	return req, nil
}

// DecodeResponse parses a server frame. Frames without a request id are
// broadcasts as far as the engine is concerned and fail with ErrProtocol.
func DecodeResponse(data []byte) (*Response, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if missing := missingFields[Response](fields); len(missing) > 0 {
		return nil, fmt.Errorf("%w: response missing %v", ErrProtocol, missing)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if resp.RequestID == "" {
		return nil, fmt.Errorf("%w: empty requestId", ErrProtocol)
	}
	return &resp, nil
}

// EncodeResult renders a successful response carrying data.
func EncodeResult(requestID string, data any) ([]byte, error) {
	resp := Response{RequestID: requestID, OK: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		resp.Data = raw
	}
	return json.Marshal(resp)
}

// EncodeFailure renders an ok:false response carrying message as its error.
func EncodeFailure(requestID, message string) ([]byte, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Response{RequestID: requestID, OK: false, Error: raw})
}
