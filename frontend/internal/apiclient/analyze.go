package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/neuroaccess/neuroaccess/shared/domain"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
)

const analyzePath = "/analyze_mri"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Analyze submits every image as a "file" part of one multipart request.
func (c *APIClient) Analyze(ctx context.Context, images []domain.UploadedImage) (domain.AnalysisResult, error) {
	var result domain.AnalysisResult
	if len(images) == 0 {
		return result, internal_errors.Validation("Please upload at least one image.")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, img := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(img.Filename)))
		h.Set("Content-Type", img.MimeType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return result, fmt.Errorf("failed to create multipart part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return result, fmt.Errorf("failed to write multipart part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return result, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	body, err := c.do(ctx, ActionAnalyze, http.MethodPost, analyzePath, mw.FormDataContentType(), &buf)
	if err != nil {
		return result, err
	}
	if err := c.decode(body, &result); err != nil {
		return result, err
	}
	// the backend may return its findings at the top level; keep them as detail
	if len(result.FullData) == 0 {
		result.FullData = append([]byte(nil), bytes.TrimSpace(body)...)
	}
	return result, nil
}
