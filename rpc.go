package devrun

import (
	"context"
	"encoding/json"
	"fmt"
)

// Requester performs one correlated call. *Transport implements it.
type Requester interface {
	Request(ctx context.Context, req Request) (json.RawMessage, error)
}

// RPCClient runs the run operations over a persistent connection.
// It implements Client and TextSource.
type RPCClient struct {
	requester Requester
}

// NewRPCClient creates a client on top of a Requester.
func NewRPCClient(requester Requester) *RPCClient {
	return &RPCClient{requester: requester}
}

// CreateRun starts a run and returns the id assigned by the authority.
func (c *RPCClient) CreateRun(ctx context.Context, problem, category string) (string, error) {
	data, err := c.requester.Request(ctx, CreateRequest{Problem: problem, Category: category})
	if err != nil {
		return "", err
	}

	var out CreateResult
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: create result: %v", ErrProtocol, err)
	}
	if out.RunID == "" {
		return "", fmt.Errorf("%w: create result without runId", ErrProtocol)
	}
	return out.RunID, nil
}

// SubmitRun ends a run.
func (c *RPCClient) SubmitRun(ctx context.Context, runID string) error {
	_, err := c.requester.Request(ctx, SubmitRequest{RunID: runID})
	return err
}

// SendMoves delivers one batch.
func (c *RPCClient) SendMoves(ctx context.Context, req MoveRequest) error {
	_, err := c.requester.Request(ctx, req)
	return err
}

// GetText fetches the authoritative text of a run.
func (c *RPCClient) GetText(ctx context.Context, runID string) (string, error) {
	data, err := c.requester.Request(ctx, GetTextRequest{RunID: runID})
	if err != nil {
		return "", err
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return "", fmt.Errorf("%w: getText result: %v", ErrProtocol, err)
	}
	return text, nil
}
