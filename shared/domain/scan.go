package domain

import "encoding/json"

// AnalysisResult is the analysis backend's answer to an image submission.
type AnalysisResult struct {
	ImageURL  string          `json:"image_url" validate:"required"`
	Summary   string          `json:"summary"`
	Timestamp ScanTimestamp   `json:"timestamp" validate:"required"`
	FullData  json.RawMessage `json:"full_data,omitempty"`
}

// HistoryItem is a past analysis as listed by the backend.
type HistoryItem struct {
	Id        HistoryItemId   `json:"id" validate:"required"`
	ImageURL  string          `json:"image_url" validate:"required"`
	Summary   string          `json:"summary"`
	Timestamp ScanTimestamp   `json:"timestamp" validate:"required"`
	JsonURL   string          `json:"json_url"`
	FullData  json.RawMessage `json:"full_data,omitempty"`
}

type ScanSource string

const (
	SourceUpload  ScanSource = "upload"
	SourceHistory ScanSource = "history"
)

// ActiveScan is the analysis currently in context for chat queries.
type ActiveScan struct {
	ImageURL  string        `json:"image_url"`
	Timestamp ScanTimestamp `json:"timestamp"`
	Summary   string        `json:"summary"`
	Source    ScanSource    `json:"source"`
}

func (r AnalysisResult) AsActiveScan() ActiveScan {
	return ActiveScan{ImageURL: r.ImageURL, Timestamp: r.Timestamp, Summary: r.Summary, Source: SourceUpload}
}

func (h HistoryItem) AsActiveScan() ActiveScan {
	return ActiveScan{ImageURL: h.ImageURL, Timestamp: h.Timestamp, Summary: h.Summary, Source: SourceHistory}
}
