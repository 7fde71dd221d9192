// Package scanstate is the typed schema over a session's kv namespace.
//
// Slots and their single writer:
//
//	analysisResult       upload submission
//	selectedHistoryItem  history selection (cleared by upload submission)
//	uploadedImages       upload screen draft
//	promptText           chat screen, unsent input
//	chatResponse         chat screen, latest exchange for one scan
//
// Writes that follow an upstream call are conditional on the slots the call
// was issued for; if those changed meanwhile the write fails with ErrStale and
// the response is dropped.
package scanstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/neuroaccess/neuroaccess/shared/domain"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

const (
	KeyAnalysisResult      = "analysisResult"
	KeySelectedHistoryItem = "selectedHistoryItem"
	KeyUploadedImages      = "uploadedImages"
	KeyPromptText          = "promptText"
	KeyChatResponse        = "chatResponse"
)

// ErrStale reports that the state a request was issued for has changed.
var ErrStale = errors.New("scanstate: state changed while request was in flight")

// Session is one browser session's view of the store.
type Session struct {
	store kv.Store
	id    string
}

func Open(store kv.Store, sessionID string) *Session {
	return &Session{store: store, id: sessionID}
}

func (s *Session) ID() string {
	return s.id
}

// get returns the raw slot; nil means absent.
func (s *Session) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.store.Get(ctx, s.id, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return raw, nil
}

// getJSON decodes a slot. A slot that no longer decodes is treated as absent.
func (s *Session) getJSON(ctx context.Context, key string, out any) ([]byte, bool, error) {
	raw, err := s.get(ctx, key)
	if err != nil || raw == nil {
		return raw, false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Log.Warn("discarding undecodable session slot", "key", key, "error", err)
		return raw, false, nil
	}
	return raw, true, nil
}

func (s *Session) apply(ctx context.Context, txn kv.Txn) error {
	err := s.store.Apply(ctx, s.id, txn)
	if errors.Is(err, kv.ErrConflict) {
		return ErrStale
	}
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// every slot type is plain data
		panic(fmt.Sprintf("scanstate: marshal %T: %v", v, err))
	}
	return b
}

// ScanRef pins the active-scan slots as they were when read.
type ScanRef struct {
	analysis []byte
	selected []byte
}

func (r ScanRef) conditions() []kv.Condition {
	return []kv.Condition{
		{Key: KeyAnalysisResult, Value: r.analysis},
		{Key: KeySelectedHistoryItem, Value: r.selected},
	}
}

// ActiveScan resolves the scan chat is about: a selected history item wins
// over the latest upload result. ok is false when neither is stored.
func (s *Session) ActiveScan(ctx context.Context) (scan domain.ActiveScan, ok bool, ref ScanRef, err error) {
	var selected domain.HistoryItem
	rawSelected, hasSelected, err := s.getJSON(ctx, KeySelectedHistoryItem, &selected)
	if err != nil {
		return scan, false, ref, err
	}
	var result domain.AnalysisResult
	rawResult, hasResult, err := s.getJSON(ctx, KeyAnalysisResult, &result)
	if err != nil {
		return scan, false, ref, err
	}
	ref = ScanRef{analysis: rawResult, selected: rawSelected}

	switch {
	case hasSelected:
		return selected.AsActiveScan(), true, ref, nil
	case hasResult:
		return result.AsActiveScan(), true, ref, nil
	}
	return scan, false, ref, nil
}

// AnalysisResult returns the latest upload result, if any.
func (s *Session) AnalysisResult(ctx context.Context) (domain.AnalysisResult, bool, error) {
	var result domain.AnalysisResult
	_, ok, err := s.getJSON(ctx, KeyAnalysisResult, &result)
	return result, ok, err
}

// SelectHistoryItem makes item the active scan and drops the chat draft of
// the previous one.
func (s *Session) SelectHistoryItem(ctx context.Context, item domain.HistoryItem) error {
	return s.apply(ctx, kv.Txn{Mutations: []kv.Mutation{
		kv.Put(KeySelectedHistoryItem, mustMarshal(item)),
		kv.Del(KeyChatResponse),
	}})
}

// DraftSnapshot is the upload draft together with the exact bytes it was
// read from, so later writes can require it to be unchanged.
type DraftSnapshot struct {
	Draft domain.UploadDraft
	raw   []byte
}

func (d DraftSnapshot) condition() kv.Condition {
	return kv.Condition{Key: KeyUploadedImages, Value: d.raw}
}

// Draft returns the current upload draft, or a fresh empty one.
func (s *Session) Draft(ctx context.Context) (DraftSnapshot, error) {
	var draft domain.UploadDraft
	raw, ok, err := s.getJSON(ctx, KeyUploadedImages, &draft)
	if err != nil {
		return DraftSnapshot{}, err
	}
	if !ok {
		draft = newDraft()
	}
	return DraftSnapshot{Draft: draft, raw: raw}, nil
}

func newDraft() domain.UploadDraft {
	return domain.UploadDraft{Id: uuid.NewString(), Images: []domain.UploadedImage{}}
}

// AddImages appends decoded images, in order, to an unprocessed draft.
func (s *Session) AddImages(ctx context.Context, snap DraftSnapshot, images []domain.UploadedImage) (domain.UploadDraft, error) {
	if snap.Draft.Processed {
		return snap.Draft, internal_errors.Validation("These images were already processed. Start a new upload to add more.")
	}
	next := snap.Draft
	next.Images = append(append([]domain.UploadedImage{}, snap.Draft.Images...), images...)
	err := s.apply(ctx, kv.Txn{
		Conditions: []kv.Condition{snap.condition()},
		Mutations:  []kv.Mutation{kv.Put(KeyUploadedImages, mustMarshal(next))},
	})
	return next, err
}

// RemoveImage drops one pending image. Removing an unknown id is a no-op.
func (s *Session) RemoveImage(ctx context.Context, id domain.ImageId) (domain.UploadDraft, error) {
	snap, err := s.Draft(ctx)
	if err != nil {
		return domain.UploadDraft{}, err
	}
	if snap.Draft.Processed {
		return snap.Draft, internal_errors.Validation("These images were already processed. Start a new upload to change them.")
	}
	next, found := snap.Draft.Without(id)
	if !found {
		return snap.Draft, nil
	}
	err = s.apply(ctx, kv.Txn{
		Conditions: []kv.Condition{snap.condition()},
		Mutations:  []kv.Mutation{kv.Put(KeyUploadedImages, mustMarshal(next))},
	})
	return next, err
}

// ResetDraft starts a new upload session. The new draft id makes any
// submission still in flight for the old one stale.
func (s *Session) ResetDraft(ctx context.Context) error {
	return s.apply(ctx, kv.Txn{Mutations: []kv.Mutation{
		kv.Put(KeyUploadedImages, mustMarshal(newDraft())),
	}})
}

// SaveAnalysis records a successful submission of snap: the result becomes
// the active scan, any selected history item is cleared and the draft is
// marked processed, all in one mutation.
func (s *Session) SaveAnalysis(ctx context.Context, snap DraftSnapshot, result domain.AnalysisResult) error {
	processed := snap.Draft
	processed.Processed = true
	return s.apply(ctx, kv.Txn{
		Conditions: []kv.Condition{snap.condition()},
		Mutations: []kv.Mutation{
			kv.Put(KeyAnalysisResult, mustMarshal(result)),
			kv.Del(KeySelectedHistoryItem),
			kv.Put(KeyUploadedImages, mustMarshal(processed)),
		},
	})
}

// Prompt returns the unsent chat input.
func (s *Session) Prompt(ctx context.Context) (string, error) {
	var text string
	_, _, err := s.getJSON(ctx, KeyPromptText, &text)
	return text, err
}

func (s *Session) SavePrompt(ctx context.Context, text string) error {
	return s.apply(ctx, kv.Txn{Mutations: []kv.Mutation{kv.Put(KeyPromptText, mustMarshal(text))}})
}

// ChatExchange returns the latest exchange if it belongs to the scan with
// the given timestamp.
func (s *Session) ChatExchange(ctx context.Context, scanTimestamp domain.ScanTimestamp) (domain.ChatExchange, bool, error) {
	var ex domain.ChatExchange
	_, ok, err := s.getJSON(ctx, KeyChatResponse, &ex)
	if err != nil || !ok {
		return ex, false, err
	}
	if ex.ScanTimestamp != scanTimestamp {
		return domain.ChatExchange{}, false, nil
	}
	return ex, true, nil
}

// SaveChat replaces the chat draft with ex, provided the active scan is
// still the one pinned by ref. The sent prompt is consumed.
func (s *Session) SaveChat(ctx context.Context, ref ScanRef, ex domain.ChatExchange) error {
	return s.apply(ctx, kv.Txn{
		Conditions: ref.conditions(),
		Mutations: []kv.Mutation{
			kv.Put(KeyChatResponse, mustMarshal(ex)),
			kv.Del(KeyPromptText),
		},
	})
}
