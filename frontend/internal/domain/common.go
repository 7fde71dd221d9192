package frontend_domain

// CommonTemplateData holds fields that are common to all page templates.
// Available in templates as .Common via the TemplateData wrapper.
type CommonTemplateData struct {
	Error      string
	Success    string
	CSRFToken  string // CSRF token for form submissions
	ActiveTab  string // "upload", "chat" or "history"; empty on the landing page
	Validation ValidationData
}

// ValidationData mirrors the upload limits so forms can hint them.
type ValidationData struct {
	MaxFiles         int
	MaxFileSizeBytes int64
	AllowedMimeTypes []string
}
