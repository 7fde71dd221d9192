package handler

import (
	"context"
	"net/http"
	"strings"

	frontend_domain "github.com/neuroaccess/neuroaccess/frontend/internal/domain"
	"github.com/neuroaccess/neuroaccess/frontend/internal/scanstate"
	"github.com/neuroaccess/neuroaccess/shared/api"
	"github.com/neuroaccess/neuroaccess/shared/domain"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

const (
	chatURL = "/chat"

	msgEmptyPrompt = "Please enter a question to ask the chatbot."
	msgScanChanged = "The active scan changed while waiting for the answer. The response was discarded."
)

// ChatGetHandler reads the active scan fresh on every visit.
func (h *Handler) ChatGetHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	scan, hasScan, _, err := sess.ActiveScan(ctx)
	if err != nil {
		logger.Log.Error("resolving active scan", "error", err)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	prompt, err := sess.Prompt(ctx)
	if err != nil {
		logger.Log.Error("reading prompt draft", "error", err)
	}

	data := frontend_domain.ChatPageData{
		Prompt: prompt,
		Busy:   h.Inflight.Busy(sess.ID(), actionChat),
	}
	if hasScan {
		data.Scan = &scan
		data.SummaryHTML = h.Markdown.Render(scan.Summary)
	}
	// with no scan the exchange is keyed by the empty timestamp
	if ex, ok, err := sess.ChatExchange(ctx, scan.Timestamp); err != nil {
		logger.Log.Error("reading chat exchange", "error", err)
	} else if ok {
		data.Exchange = &ex
		data.ResponseHTML = h.Markdown.Render(ex.Response)
	}

	h.renderTemplate(w, r, "chat.html", "chat", data)
}

func (h *Handler) ChatPostHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, chatURL, flashCookieError, "Invalid form data.")
		return
	}
	prompt := r.FormValue("prompt")

	if _, err := h.ask(r.Context(), sess, prompt); err != nil {
		if abandoned(r.Context(), err) {
			return
		}
		msg := userMessage(err)
		switch {
		case isStale(err):
			msg = msgScanChanged
		case internal_errors.IsKind(err, internal_errors.KindTransport),
			internal_errors.IsKind(err, internal_errors.KindApplication),
			internal_errors.IsKind(err, internal_errors.KindMalformed):
			msg = "Error getting response: " + msg
		}
		h.redirectWithFlash(w, r, chatURL, flashCookieError, msg)
		return
	}
	http.Redirect(w, r, chatURL, http.StatusSeeOther)
}

// ask sends prompt about the session's active scan and stores the answer.
// The raw input is kept as the prompt draft so a failure loses nothing.
func (h *Handler) ask(ctx context.Context, sess *scanstate.Session, prompt string) (domain.ChatExchange, error) {
	if err := sess.SavePrompt(ctx, prompt); err != nil {
		logger.Log.Error("saving prompt draft", "error", err)
	}

	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return domain.ChatExchange{}, internal_errors.Validation(msgEmptyPrompt)
	}

	release, err := h.Inflight.Acquire(sess.ID(), actionChat)
	if err != nil {
		return domain.ChatExchange{}, err
	}
	defer release()

	scan, _, ref, err := sess.ActiveScan(ctx)
	if err != nil {
		return domain.ChatExchange{}, err
	}

	answer, err := h.Backend.Chat(ctx, api.ChatRequest{Prompt: trimmed, Timestamp: scan.Timestamp})
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Warn("chat failed", "session", sess.ID(), "kind", internal_errors.KindOf(err), "error", err)
		}
		return domain.ChatExchange{}, err
	}
	if ctx.Err() != nil {
		return domain.ChatExchange{}, ctx.Err()
	}

	ex := domain.ChatExchange{ScanTimestamp: scan.Timestamp, Prompt: trimmed, Response: answer}
	if err := sess.SaveChat(ctx, ref, ex); err != nil {
		if isStale(err) {
			logger.Log.Info("discarding chat answer for a replaced scan", "session", sess.ID(), "timestamp", scan.Timestamp)
		}
		return domain.ChatExchange{}, err
	}
	return ex, nil
}
