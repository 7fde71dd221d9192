package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	frontend_domain "github.com/neuroaccess/neuroaccess/frontend/internal/domain"
	"github.com/neuroaccess/neuroaccess/frontend/internal/middleware"
	"github.com/neuroaccess/neuroaccess/shared/domain"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

// TemplateData wraps page-specific data with common template data.
// Templates access page data via .Data and common data via .Common.
type TemplateData struct {
	Data   any
	Common frontend_domain.CommonTemplateData
}

func (h *Handler) renderTemplate(w http.ResponseWriter, r *http.Request, name, tab string, data any) {
	h.renderTemplateWithStatus(w, r, name, tab, data, http.StatusOK)
}

func (h *Handler) renderTemplateWithStatus(w http.ResponseWriter, r *http.Request, name, tab string, data any, status int) {
	tmpl, ok := h.getTemplate(name)
	if !ok {
		http.Error(w, fmt.Sprintf("Template %s not found", name), http.StatusInternalServerError)
		return
	}

	common := h.initCommonTemplateData(w, r)
	common.ActiveTab = tab

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, TemplateData{Data: data, Common: common}); err != nil {
		logger.Log.Error("error executing template", "template", name, "error", err)
		http.Error(w, "Internal Server Error rendering template", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// pages reflect per-session state
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) initCommonTemplateData(w http.ResponseWriter, r *http.Request) frontend_domain.CommonTemplateData {
	return frontend_domain.CommonTemplateData{
		Error:     h.popFlash(w, r, flashCookieError),
		Success:   h.popFlash(w, r, flashCookieSuccess),
		CSRFToken: middleware.GetCSRFTokenFromContext(r),
		Validation: frontend_domain.ValidationData{
			MaxFiles:         h.Public.Upload.MaxFiles,
			MaxFileSizeBytes: h.Public.Upload.MaxFileSizeBytes,
			AllowedMimeTypes: h.Public.Upload.AllowedMimeTypes,
		},
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// formatTimestamp renders backend timestamps for people, keeping unknown
// formats as they came.
func formatTimestamp(ts string) string {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Format("Jan 2, 2006 15:04")
		}
	}
	return ts
}

// prettyJSON indents raw detail; empty or null detail yields "".
func prettyJSON(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

func (h *Handler) historyCard(item domain.HistoryItem) frontend_domain.HistoryCard {
	return frontend_domain.HistoryCard{
		Item:        item,
		Date:        formatTimestamp(item.Timestamp),
		SummaryHTML: h.Markdown.Render(item.Summary),
		Details:     prettyJSON(item.FullData),
	}
}
