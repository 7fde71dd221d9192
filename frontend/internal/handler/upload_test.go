package handler

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/neuroaccess/neuroaccess/frontend/internal/scanstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) addImages(files ...testFile) {
	e.t.Helper()
	rr := e.postFiles(files...)
	requireRedirect(e.t, rr, "/upload")
	require.Empty(e.t, flash(e.t, rr, flashCookieError))
}

func TestUploadFilesHandler(t *testing.T) {
	t.Run("files are appended in input order", func(t *testing.T) {
		env := newTestEnv(t)
		env.addImages(pngFile(t, "a.png", 40, 10), pngFile(t, "b.png", 10, 40), pngFile(t, "c.png", 5, 5))

		snap, err := env.session().Draft(context.Background())
		require.NoError(t, err)
		require.Len(t, snap.Draft.Images, 3)
		for i, name := range []string{"a.png", "b.png", "c.png"} {
			assert.Equal(t, name, snap.Draft.Images[i].Filename)
		}
		assert.Equal(t, 40, snap.Draft.Images[0].Width)

		body := env.get("/upload").Body.String()
		assert.Contains(t, body, `alt="Uploaded Image 3"`)
		assert.Contains(t, body, "data:image/jpeg;base64,")
	})

	t.Run("non-image fails the whole batch", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.postFiles(pngFile(t, "ok.png", 4, 4), testFile{name: "notes.txt", data: []byte("plain text")})
		requireRedirect(t, rr, "/upload")
		assert.Contains(t, flash(t, rr, flashCookieError), "notes.txt")

		snap, err := env.session().Draft(context.Background())
		require.NoError(t, err)
		assert.Empty(t, snap.Draft.Images)
	})

	t.Run("too many files", func(t *testing.T) {
		env := newTestEnv(t)
		env.addImages(pngFile(t, "a.png", 2, 2), pngFile(t, "b.png", 2, 2))
		rr := env.postFiles(pngFile(t, "c.png", 2, 2), pngFile(t, "d.png", 2, 2))
		assert.Contains(t, flash(t, rr, flashCookieError), "at most 3")
	})

	t.Run("no files selected", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.postFiles()
		assert.Contains(t, flash(t, rr, flashCookieError), "choose at least one image")
	})
}

func TestUploadRemoveHandler(t *testing.T) {
	env := newTestEnv(t)
	env.addImages(pngFile(t, "a.png", 2, 2), pngFile(t, "b.png", 2, 2))
	snap, err := env.session().Draft(context.Background())
	require.NoError(t, err)

	rr := env.postForm("/upload/files/"+snap.Draft.Images[0].Id+"/delete", nil)
	requireRedirect(t, rr, "/upload")

	snap, err = env.session().Draft(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Draft.Images, 1)
	assert.Equal(t, "b.png", snap.Draft.Images[0].Filename)
}

func TestUploadSubmitHandler(t *testing.T) {
	t.Run("no pending files is a validation error without a request", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.postForm("/upload/submit", nil)
		requireRedirect(t, rr, "/upload")
		assert.Equal(t, "Please upload at least one image to enable the chatbot.", flash(t, rr, flashCookieError))
		assert.Zero(t, env.backend.callCount("/analyze_mri"))
	})

	t.Run("success writes the result once and enables chat", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(scanstate.KeySelectedHistoryItem, storedHistoryItem)
		env.backend.analyze = respondJSON(analysisBody)
		env.addImages(pngFile(t, "scan.png", 8, 8))

		before := env.get("/upload").Body.String()
		assert.NotContains(t, before, "Open Chat")
		assert.Contains(t, before, "Submit Images")

		rr := env.postForm("/upload/submit", nil)
		requireRedirect(t, rr, "/upload")
		assert.Equal(t, "You can now interact with the chatbot.", flash(t, rr, flashCookieSuccess))
		assert.Equal(t, 1, env.backend.callCount("/analyze_mri"))
		assert.Equal(t, 1, env.store.writeCount(scanstate.KeyAnalysisResult))

		scan, ok, _, err := env.session().ActiveScan(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "http://images.test/new.png", scan.ImageURL, "new upload replaces the selected history item")

		after := env.get("/upload").Body.String()
		assert.Contains(t, after, "Open Chat")
		assert.Contains(t, after, "Processed")
		assert.Contains(t, after, "disabled")

		rr = env.postForm("/upload/submit", nil)
		assert.Contains(t, flash(t, rr, flashCookieError), "already processed")
		assert.Equal(t, 1, env.backend.callCount("/analyze_mri"))
		assert.Equal(t, 1, env.store.writeCount(scanstate.KeyAnalysisResult))
	})

	failures := map[string]http.HandlerFunc{
		"bad status":     respondStatus(http.StatusInternalServerError),
		"error field":    respondJSON(`{"error":"Unreadable scan"}`),
		"malformed body": respondJSON(`{"summary":"missing image"}`),
	}
	for name, backend := range failures {
		t.Run("failure: "+name, func(t *testing.T) {
			env := newTestEnv(t)
			env.backend.analyze = backend
			env.addImages(pngFile(t, "scan.png", 8, 8))

			rr := env.postForm("/upload/submit", nil)
			requireRedirect(t, rr, "/upload")
			assert.Contains(t, flash(t, rr, flashCookieError), "Analysis failed")
			assert.Zero(t, env.store.writeCount(scanstate.KeyAnalysisResult))

			body := env.get("/upload").Body.String()
			assert.NotContains(t, body, "Open Chat")
			assert.Contains(t, body, "Submit Images")

			snap, err := env.session().Draft(context.Background())
			require.NoError(t, err)
			assert.False(t, snap.Draft.Processed)
			assert.Len(t, snap.Draft.Images, 1)
		})
	}

	t.Run("reset while analyzing drops the result", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.analyze = func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, env.session().ResetDraft(context.Background()))
			respondJSON(analysisBody)(w, r)
		}
		env.addImages(pngFile(t, "scan.png", 8, 8))

		rr := env.postForm("/upload/submit", nil)
		requireRedirect(t, rr, "/upload")
		assert.Contains(t, flash(t, rr, flashCookieError), "discarded")
		assert.Zero(t, env.store.writeCount(scanstate.KeyAnalysisResult))
	})

	t.Run("reset re-enables submission", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.analyze = respondJSON(analysisBody)
		env.addImages(pngFile(t, "scan.png", 8, 8))
		env.postForm("/upload/submit", nil)

		requireRedirect(t, env.postForm("/upload/reset", url.Values{}), "/upload")
		snap, err := env.session().Draft(context.Background())
		require.NoError(t, err)
		assert.False(t, snap.Draft.Processed)
		assert.Empty(t, snap.Draft.Images)

		env.addImages(pngFile(t, "next.png", 8, 8))
		rr := env.postForm("/upload/submit", nil)
		assert.Empty(t, flash(t, rr, flashCookieError))
		assert.Equal(t, 2, env.backend.callCount("/analyze_mri"))
	})

	t.Run("second submission while one is in flight is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.addImages(pngFile(t, "scan.png", 8, 8))
		release, err := env.h.Inflight.Acquire(testSession, actionAnalyze)
		require.NoError(t, err)
		defer release()

		rr := env.postForm("/upload/submit", nil)
		assert.Contains(t, flash(t, rr, flashCookieError), "already in progress")
		assert.Zero(t, env.backend.callCount("/analyze_mri"))
		assert.Contains(t, env.get("/upload").Body.String(), "Analyzing")
	})
}
