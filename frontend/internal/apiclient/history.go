package apiclient

import (
	"bytes"
	"context"
	"net/http"

	"github.com/neuroaccess/neuroaccess/shared/api"
	"github.com/neuroaccess/neuroaccess/shared/domain"
)

// History lists past analyses. Both {"items": [...]} and a bare array are accepted.
func (c *APIClient) History(ctx context.Context) ([]domain.HistoryItem, error) {
	body, err := c.do(ctx, ActionHistory, http.MethodGet, c.HistoryPath, "", nil)
	if err != nil {
		return nil, err
	}

	var response api.HistoryResponse
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		trimmed = append([]byte(`{"items":`), append(trimmed, '}')...)
	}
	if err := c.decode(trimmed, &response); err != nil {
		return nil, err
	}
	if response.Items == nil {
		response.Items = []domain.HistoryItem{}
	}
	return response.Items, nil
}

// HistoryItem finds one past analysis by id.
func (c *APIClient) HistoryItem(ctx context.Context, id domain.HistoryItemId) (domain.HistoryItem, bool, error) {
	items, err := c.History(ctx)
	if err != nil {
		return domain.HistoryItem{}, false, err
	}
	for _, item := range items {
		if item.Id == id {
			return item, true, nil
		}
	}
	return domain.HistoryItem{}, false, nil
}
