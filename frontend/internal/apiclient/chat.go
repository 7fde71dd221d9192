package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/neuroaccess/neuroaccess/shared/api"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
)

const chatPath = "/chat"

type chatReply struct {
	Response *string `json:"response" validate:"required"`
}

// Chat forwards a trimmed prompt, scoped to the active scan's timestamp.
func (c *APIClient) Chat(ctx context.Context, req api.ChatRequest) (string, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return "", internal_errors.Validation("Please enter a question to ask the chatbot.")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	body, err := c.do(ctx, ActionChat, http.MethodPost, chatPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var reply chatReply
	if err := c.decode(body, &reply); err != nil {
		return "", err
	}
	return *reply.Response, nil
}
