package frontend_domain

import (
	"html/template"

	"github.com/neuroaccess/neuroaccess/frontend/internal/fetchstate"
	"github.com/neuroaccess/neuroaccess/shared/domain"
)

type UploadPageData struct {
	Draft       domain.UploadDraft
	CanSubmit   bool
	ChatEnabled bool // the draft was analyzed; link to chat
	Busy        bool // a submission is in flight for this session
}

type ChatPageData struct {
	Scan         *domain.ActiveScan
	SummaryHTML  template.HTML
	Prompt       string
	Exchange     *domain.ChatExchange
	ResponseHTML template.HTML
	Busy         bool
}

// HistoryPageData drives both the page shell and the list fragment.
type HistoryPageData struct {
	Inline       bool // list rendered synchronously instead of fetched by script
	State        fetchstate.State
	Error        string
	Items        []HistoryCard
	Placeholders []int
}

// HistoryCard is one past analysis prepared for display.
type HistoryCard struct {
	Item        domain.HistoryItem
	Date        string
	SummaryHTML template.HTML
	Details     string // indented full_data, empty when there is none
}
