package handler

import (
	"errors"
	"net/http"

	frontend_domain "github.com/neuroaccess/neuroaccess/frontend/internal/domain"
	"github.com/neuroaccess/neuroaccess/frontend/internal/fetchstate"
	"github.com/neuroaccess/neuroaccess/frontend/internal/inflight"
	"github.com/neuroaccess/neuroaccess/frontend/internal/middleware"
	"github.com/neuroaccess/neuroaccess/shared/domain"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

const (
	historyURL = "/history"

	historyPlaceholders = 3
)

// HistoryGetHandler renders the page shell with loading placeholders; the
// list is fetched by script from /history/items. ?inline=1 renders the list
// in the same response for clients without script.
func (h *Handler) HistoryGetHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("inline") == "1" {
		data, _ := h.loadHistory(r)
		data.Inline = true
		h.renderTemplate(w, r, "history.html", "history", data)
		return
	}

	data := frontend_domain.HistoryPageData{State: fetchstate.Loading}
	for i := 1; i <= historyPlaceholders; i++ {
		data.Placeholders = append(data.Placeholders, i)
	}
	h.renderTemplate(w, r, "history.html", "history", data)
}

// HistoryItemsHandler renders the list fragment in its success or error state.
func (h *Handler) HistoryItemsHandler(w http.ResponseWriter, r *http.Request) {
	data, err := h.loadHistory(r)
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
		if errors.Is(err, inflight.ErrBusy) {
			status = http.StatusConflict
		}
	}
	h.renderTemplateWithStatus(w, r, "history_items.html", "history", data, status)
}

func (h *Handler) loadHistory(r *http.Request) (frontend_domain.HistoryPageData, error) {
	items, state, err := h.fetchHistory(r)
	data := frontend_domain.HistoryPageData{State: state}
	if err != nil {
		data.Error = userMessage(err)
		return data, err
	}
	data.Items = make([]frontend_domain.HistoryCard, 0, len(items))
	for _, item := range items {
		data.Items = append(data.Items, h.historyCard(item))
	}
	return data, nil
}

// fetchHistory runs at most one history fetch per session at a time.
func (h *Handler) fetchHistory(r *http.Request) ([]domain.HistoryItem, fetchstate.State, error) {
	ctx := r.Context()
	if sid := middleware.SessionIDFromContext(ctx); sid != "" {
		release, err := h.Inflight.Acquire(sid, actionHistory)
		if err != nil {
			return nil, fetchstate.Error, err
		}
		defer release()
	}

	var items []domain.HistoryItem
	fetch := fetchstate.New()
	err := fetch.Run(func() error {
		var err error
		items, err = h.Backend.History(ctx)
		return err
	})
	if err != nil && ctx.Err() == nil {
		logger.Log.Warn("history fetch failed", "kind", internal_errors.KindOf(err), "error", err)
	}
	return items, fetch.State(), err
}

// HistorySelectHandler makes a past analysis the active scan and opens chat.
func (h *Handler) HistorySelectHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, historyURL, flashCookieError, "Invalid form data.")
		return
	}
	id := r.FormValue("id")
	if id == "" {
		h.redirectWithFlash(w, r, historyURL, flashCookieError, "No scan selected.")
		return
	}

	item, found, err := h.Backend.HistoryItem(ctx, id)
	if err != nil {
		if abandoned(ctx, err) {
			return
		}
		h.redirectWithFlash(w, r, historyURL, flashCookieError, "Error loading history: "+userMessage(err))
		return
	}
	if !found {
		h.redirectWithFlash(w, r, historyURL, flashCookieError, "That scan is no longer in the history.")
		return
	}

	if err := sess.SelectHistoryItem(ctx, item); err != nil {
		logger.Log.Error("selecting history item", "error", err)
		h.redirectWithFlash(w, r, historyURL, flashCookieError, msgInternal)
		return
	}
	http.Redirect(w, r, chatURL, http.StatusSeeOther)
}
