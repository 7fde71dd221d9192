// Package imagedecode turns uploaded files into previewable images.
package imagedecode

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/neuroaccess/neuroaccess/shared/domain"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
	"github.com/neuroaccess/neuroaccess/shared/middleware/metrics"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const thumbnailQuality = 80

// File is one raw upload as received from the form.
type File struct {
	Filename string
	MimeType string
	Data     []byte
}

type Decoder struct {
	thumbSize   int
	concurrency int
	decodeOne   func(ctx context.Context, f File) (domain.UploadedImage, error)
}

// New returns a decoder producing thumbnails that fit in thumbSize x thumbSize,
// decoding at most concurrency files at once (<= 0 means unlimited).
func New(thumbSize, concurrency int) *Decoder {
	d := &Decoder{thumbSize: thumbSize, concurrency: concurrency}
	d.decodeOne = d.decode
	return d
}

// DecodeAll decodes every file in parallel. The result has one entry per
// input, in input order, regardless of which decode finishes first; the
// first failure cancels the rest and nothing is returned.
func (d *Decoder) DecodeAll(ctx context.Context, files []File) ([]domain.UploadedImage, error) {
	slots := make([]domain.UploadedImage, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := d.decodeOne(gctx, f)
			metrics.ObserveDecode(err == nil)
			if err != nil {
				return err
			}
			slots[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (d *Decoder) decode(_ context.Context, f File) (domain.UploadedImage, error) {
	src, format, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		logger.Log.Debug("image decode failed", "filename", f.Filename, "error", err)
		return domain.UploadedImage{}, internal_errors.Validation(fmt.Sprintf("%s could not be read as an image.", f.Filename))
	}

	preview, err := d.thumbnail(src)
	if err != nil {
		return domain.UploadedImage{}, fmt.Errorf("failed to build preview for %s: %w", f.Filename, err)
	}

	mimeType := f.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/" + format
	}
	bounds := src.Bounds()
	return domain.UploadedImage{
		Id:         uuid.NewString(),
		Filename:   f.Filename,
		MimeType:   mimeType,
		SizeBytes:  int64(len(f.Data)),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Data:       f.Data,
		PreviewURL: preview,
	}, nil
}

// thumbnail scales src to fit the configured box and returns a JPEG data URL.
func (d *Decoder) thumbnail(src image.Image) (string, error) {
	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), d.thumbSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fitWithin keeps the aspect ratio; images already smaller are not upscaled.
func fitWithin(w, h, box int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	if box <= 0 || (w <= box && h <= box) {
		return w, h
	}
	if w >= h {
		return box, max(1, h*box/w)
	}
	return max(1, w*box/h), box
}
