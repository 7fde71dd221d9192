package handler

import (
	"encoding/json"
	"net/http"

	"github.com/neuroaccess/neuroaccess/shared/api"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

// maxJSONBody bounds /api/v1 request bodies; prompts are short.
const maxJSONBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("encoding JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	writeJSON(w, internal_errors.StatusCode(err), api.ErrorResponse{Error: userMessage(err)})
}

// APIActiveScanHandler returns the session's active scan, or 204 when none.
func (h *Handler) APIActiveScanHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeJSONError(w, &internal_errors.ErrorWithStatusCode{Message: msgSessionGone, StatusCode: http.StatusInternalServerError})
		return
	}
	scan, found, _, err := sess.ActiveScan(r.Context())
	if err != nil {
		logger.Log.Error("resolving active scan", "error", err)
		writeJSONError(w, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// APIChatHandler asks about the active scan. The timestamp is always taken
// from the session, never from the request.
func (h *Handler) APIChatHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeJSONError(w, &internal_errors.ErrorWithStatusCode{Message: msgSessionGone, StatusCode: http.StatusInternalServerError})
		return
	}

	var req api.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeJSONError(w, internal_errors.Validation("Invalid JSON body."))
		return
	}

	ex, err := h.ask(r.Context(), sess, req.Prompt)
	if err != nil {
		if abandoned(r.Context(), err) {
			return
		}
		if isStale(err) {
			writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: msgScanChanged})
			return
		}
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ChatResponse{Response: ex.Response})
}

func (h *Handler) APIHistoryHandler(w http.ResponseWriter, r *http.Request) {
	items, _, err := h.fetchHistory(r)
	if err != nil {
		if abandoned(r.Context(), err) {
			return
		}
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.HistoryResponse{Items: items})
}
