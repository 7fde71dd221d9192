package domain

// ChatExchange is the latest question and answer about one scan.
type ChatExchange struct {
	ScanTimestamp ScanTimestamp `json:"scan_timestamp"`
	Prompt        string        `json:"prompt"`
	Response      string        `json:"response"`
}
