package domain

type (
	ScanTimestamp = string
	HistoryItemId = string
	ImageId       = string
	DraftId       = string
)
