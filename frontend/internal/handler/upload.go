package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	frontend_domain "github.com/neuroaccess/neuroaccess/frontend/internal/domain"
	"github.com/neuroaccess/neuroaccess/frontend/internal/imagedecode"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
	"github.com/neuroaccess/neuroaccess/shared/validation"
)

const uploadURL = "/upload"

func (h *Handler) UploadGetHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}
	snap, err := sess.Draft(r.Context())
	if err != nil {
		logger.Log.Error("reading upload draft", "error", err)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}

	busy := h.Inflight.Busy(sess.ID(), actionAnalyze)
	h.renderTemplate(w, r, "upload.html", "upload", frontend_domain.UploadPageData{
		Draft:       snap.Draft,
		CanSubmit:   snap.Draft.CanSubmit() && !busy,
		ChatEnabled: snap.Draft.Processed,
		Busy:        busy,
	})
}

// UploadFilesHandler decodes the picked files and appends them to the draft.
func (h *Handler) UploadFilesHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			h.redirectWithFlash(w, r, uploadURL, flashCookieError, "Invalid form data.")
			return
		}
	}
	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, "Please choose at least one image.")
		return
	}

	snap, err := sess.Draft(ctx)
	if err != nil {
		logger.Log.Error("reading upload draft", "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, msgInternal)
		return
	}
	if snap.Draft.Processed {
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, "These images were already processed. Start a new upload to add more.")
		return
	}
	if err := h.imageLimits().CheckCount(len(snap.Draft.Images), len(headers)); err != nil {
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, fmt.Sprintf("You can upload at most %d images.", h.Public.Upload.MaxFiles))
		return
	}

	files := make([]imagedecode.File, 0, len(headers))
	for _, fh := range headers {
		f, err := h.readUpload(fh)
		if err != nil {
			h.redirectWithFlash(w, r, uploadURL, flashCookieError, userMessage(err))
			return
		}
		files = append(files, f)
	}

	images, err := h.Decoder.DecodeAll(ctx, files)
	if err != nil {
		if abandoned(ctx, err) {
			return
		}
		logger.Log.Info("rejected upload", "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, userMessage(err))
		return
	}

	if _, err := sess.AddImages(ctx, snap, images); err != nil {
		if isStale(err) {
			h.redirectWithFlash(w, r, uploadURL, flashCookieError, msgDraftConflict)
			return
		}
		logger.Log.Error("saving upload draft", "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, userMessage(err))
		return
	}

	http.Redirect(w, r, uploadURL, http.StatusSeeOther)
}

func (h *Handler) imageLimits() validation.ImageLimits {
	return validation.ImageLimits{
		MaxFiles:         h.Public.Upload.MaxFiles,
		MaxFileSizeBytes: h.Public.Upload.MaxFileSizeBytes,
		AllowedMimeTypes: h.Public.Upload.AllowedMimeTypes,
	}
}

// readUpload enforces size and type limits before anything is decoded.
func (h *Handler) readUpload(fh *multipart.FileHeader) (imagedecode.File, error) {
	mimeType, data, err := h.imageLimits().ReadImage(fh)
	switch {
	case errors.Is(err, validation.ErrFileTooLarge):
		return imagedecode.File{}, internal_errors.Validation(fmt.Sprintf("%s is larger than %s.", fh.Filename, validation.FormatSizeMB(h.Public.Upload.MaxFileSizeBytes)))
	case errors.Is(err, validation.ErrInvalidMimeType):
		return imagedecode.File{}, internal_errors.Validation(fmt.Sprintf("%s is not a supported image type.", fh.Filename))
	case err != nil:
		return imagedecode.File{}, err
	}
	return imagedecode.File{Filename: fh.Filename, MimeType: mimeType, Data: data}, nil
}

func (h *Handler) UploadRemoveHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := sess.RemoveImage(r.Context(), id); err != nil {
		if isStale(err) {
			h.redirectWithFlash(w, r, uploadURL, flashCookieError, msgDraftConflict)
			return
		}
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, userMessage(err))
		return
	}
	http.Redirect(w, r, uploadURL, http.StatusSeeOther)
}

func (h *Handler) UploadResetHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}
	if err := sess.ResetDraft(r.Context()); err != nil {
		logger.Log.Error("resetting upload draft", "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, msgInternal)
		return
	}
	http.Redirect(w, r, uploadURL, http.StatusSeeOther)
}

// UploadSubmitHandler sends the pending images for analysis. The result is
// stored only if the draft is still the one that was submitted.
func (h *Handler) UploadSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		http.Error(w, msgSessionGone, http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	snap, err := sess.Draft(ctx)
	if err != nil {
		logger.Log.Error("reading upload draft", "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, msgInternal)
		return
	}
	if snap.Draft.Processed {
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, "These images were already processed. Start a new upload to submit again.")
		return
	}
	if len(snap.Draft.Images) == 0 {
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, "Please upload at least one image to enable the chatbot.")
		return
	}

	release, err := h.Inflight.Acquire(sess.ID(), actionAnalyze)
	if err != nil {
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, userMessage(err))
		return
	}
	defer release()

	result, err := h.Backend.Analyze(ctx, snap.Draft.Images)
	if err != nil {
		if abandoned(ctx, err) {
			return
		}
		logger.Log.Warn("analysis failed", "session", sess.ID(), "kind", internal_errors.KindOf(err), "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, "Analysis failed: "+userMessage(err))
		return
	}
	if abandoned(ctx, nil) {
		return
	}

	if err := sess.SaveAnalysis(ctx, snap, result); err != nil {
		if isStale(err) {
			logger.Log.Info("discarding analysis for a replaced draft", "session", sess.ID(), "draft", snap.Draft.Id)
			h.redirectWithFlash(w, r, uploadURL, flashCookieError, "The upload was changed while it was being analyzed. The result was discarded.")
			return
		}
		logger.Log.Error("saving analysis result", "error", err)
		h.redirectWithFlash(w, r, uploadURL, flashCookieError, msgInternal)
		return
	}

	logger.Log.Info("analysis stored", "session", sess.ID(), "timestamp", result.Timestamp, "images", len(snap.Draft.Images))
	h.redirectWithFlash(w, r, uploadURL, flashCookieSuccess, "You can now interact with the chatbot.")
}
