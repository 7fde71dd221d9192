package domain

// UploadedImage is a user-selected file decoded for preview and kept
// until submission or removal.
type UploadedImage struct {
	Id         ImageId `json:"id"`
	Filename   string  `json:"filename"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Data       []byte  `json:"data"`
	PreviewURL string  `json:"preview_url"` // data: URL of a downscaled thumbnail
}

// UploadDraft is one upload session. Processed is set by the successful
// submission and blocks re-submission until the draft is reset.
type UploadDraft struct {
	Id        DraftId         `json:"id"`
	Images    []UploadedImage `json:"images"`
	Processed bool            `json:"processed"`
}

func (d UploadDraft) CanSubmit() bool {
	return !d.Processed && len(d.Images) > 0
}

// Without returns a copy of the draft minus the image with the given id.
func (d UploadDraft) Without(id ImageId) (UploadDraft, bool) {
	out := d
	out.Images = make([]UploadedImage, 0, len(d.Images))
	found := false
	for _, img := range d.Images {
		if img.Id == id {
			found = true
			continue
		}
		out.Images = append(out.Images, img)
	}
	return out, found
}
