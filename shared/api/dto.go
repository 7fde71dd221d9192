package api

import "github.com/neuroaccess/neuroaccess/shared/domain"

// Wire DTOs of the analysis backend and of the /api/v1 surface.

type ChatRequest struct {
	Prompt    string               `json:"prompt" validate:"required"`
	Timestamp domain.ScanTimestamp `json:"timestamp,omitempty"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type HistoryResponse struct {
	Items []domain.HistoryItem `json:"items" validate:"dive"`
}

// ErrorResponse is the application-level failure envelope: a 2xx body whose
// "error" field is set is still a failure.
type ErrorResponse struct {
	Error string `json:"error,omitempty"`
}
