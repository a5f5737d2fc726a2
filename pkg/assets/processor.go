package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
	_ "golang.org/x/image/webp" // register WEBP decoding for uploads

	"github.com/sitewright/sitewright/pkg/models"
)

// JPEG quality for re-encoded variants
const encodeQuality = 85

// AssetError reports an image that could not be processed. It names
// the offending upload so the job's error detail can point at it.
type AssetError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *AssetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image %q: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("image %q: %s", e.Filename, e.Reason)
}

func (e *AssetError) Unwrap() error { return e.Err }

// Processor normalizes uploaded images into responsive variants, one
// per source image per requested breakpoint.
type Processor struct {
	concurrency int
}

// NewProcessor creates a processor; concurrency bounds the number of
// images resized in parallel within one job.
func NewProcessor(concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Processor{concurrency: concurrency}
}

// Process produces len(images) x len(breakpoints) variants. A single
// bad image fails the whole stage; nothing is silently dropped.
// Variant dimensions are deterministic for identical source bytes.
func (p *Processor) Process(ctx context.Context, images []models.SourceImage, breakpoints []models.Breakpoint) ([]models.ImageVariant, error) {
	if len(images) == 0 {
		return nil, nil
	}

	sorted := make([]models.Breakpoint, len(breakpoints))
	copy(sorted, breakpoints)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Width() < sorted[j].Width() })

	variants := make([][]models.ImageVariant, len(images))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := p.processImage(img, sorted)
			if err != nil {
				return err
			}
			mu.Lock()
			variants[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// flatten preserving upload order
	var all []models.ImageVariant
	for _, vs := range variants {
		all = append(all, vs...)
	}
	return all, nil
}

func (p *Processor) processImage(img models.SourceImage, breakpoints []models.Breakpoint) ([]models.ImageVariant, error) {
	if len(img.Data) > models.MaxImageBytes {
		return nil, &AssetError{Filename: img.Filename, Reason: fmt.Sprintf("exceeds %d byte limit", models.MaxImageBytes)}
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &AssetError{Filename: img.Filename, Reason: "decode failed", Err: err}
	}

	sourceID := sourceID(img.Data)
	out := make([]models.ImageVariant, 0, len(breakpoints))
	for _, bp := range breakpoints {
		width := bp.Width()
		resized := src
		// never upscale; keep the original width for small sources
		if src.Bounds().Dx() > width {
			resized = imaging.Resize(src, width, 0, imaging.Lanczos)
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(encodeQuality)); err != nil {
			return nil, &AssetError{Filename: img.Filename, Reason: "encode failed", Err: err}
		}

		out = append(out, models.ImageVariant{
			SourceID:   sourceID,
			SourceName: img.Filename,
			Breakpoint: bp,
			Width:      resized.Bounds().Dx(),
			Height:     resized.Bounds().Dy(),
			Format:     "jpg",
			Data:       buf.Bytes(),
		})
	}
	return out, nil
}

// sourceID derives a stable id from the image bytes so re-processing
// identical uploads addresses the same variants.
func sourceID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}
