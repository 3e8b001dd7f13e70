package imagefetch

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// Observer is told about every source attempt. result is one of "ok",
// "error" or "skipped".
type Observer interface {
	ImageAttempt(source, result string)
}

// Fetcher tries its sources strictly in order and returns the first image that
// decodes.
type Fetcher struct {
	sources  []Source
	logger   *slog.Logger
	observer Observer
}

var _ domain.ImageFetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher. observer may be nil.
func NewFetcher(sources []Source, logger *slog.Logger, observer Observer) *Fetcher {
	return &Fetcher{sources: sources, logger: logger, observer: observer}
}

// Fetch implements domain.ImageFetcher. A reference with a malformed CID
// returns immediately without touching any source; running out of sources is
// reported as ok=false, not as an error.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.ImageRef) (image.Image, bool) {
	if !domain.ValidCID(ref.CID) {
		f.logger.Warn("invalid image cid, skipping fetch", "cid", ref.CID)
		return nil, false
	}

	for _, src := range f.sources {
		if ctx.Err() != nil {
			return nil, false
		}

		img, err := src.Fetch(ctx, ref)
		switch {
		case errors.Is(err, ErrNotApplicable):
			f.observe(src.Name(), "skipped")
		case err != nil:
			f.observe(src.Name(), "error")
			f.logger.Warn("image source failed", "source", src.Name(), "cid", ref.CID, "error", err)
		default:
			f.observe(src.Name(), "ok")
			f.logger.Debug("image fetched", "source", src.Name(), "cid", ref.CID)
			return img, true
		}
	}

	f.logger.Info("no image source succeeded", "cid", ref.CID, "owner", ref.Owner)
	return nil, false
}

func (f *Fetcher) observe(source, result string) {
	if f.observer != nil {
		f.observer.ImageAttempt(source, result)
	}
}
