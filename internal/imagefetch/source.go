// Package imagefetch resolves image blob references to decoded images by
// trying an ordered list of sources until one of them works.
package imagefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

const (
	// DefaultCDN is the public Bluesky image CDN.
	DefaultCDN = "https://cdn.bsky.app"

	SizeThumbnail = "feed_thumbnail"
	SizeFullsize  = "feed_fullsize"

	maxImageBytes = 10 << 20
)

// ErrNotApplicable means the source cannot serve this reference at all (for
// example an owner-scoped URL without an owner). The fetcher moves on without
// treating it as a failure.
var ErrNotApplicable = errors.New("source not applicable")

// Source is one way of getting an image.
type Source interface {
	Name() string
	Fetch(ctx context.Context, ref domain.ImageRef) (image.Image, error)
}

// CDNSource downloads from the image CDN.
type CDNSource struct {
	BaseURL string
	Size    string

	// OwnerScoped puts the owner DID in the path. Such a source is not
	// applicable when the owner is unknown.
	OwnerScoped bool

	HTTPClient *http.Client
}

// Name implements Source.
func (s *CDNSource) Name() string {
	scope := "any"
	if s.OwnerScoped {
		scope = "owner"
	}
	return "cdn:" + s.Size + ":" + scope
}

// URL returns the CDN URL for ref, or "" when the source does not apply.
func (s *CDNSource) URL(ref domain.ImageRef) string {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultCDN
	}
	if s.OwnerScoped {
		if ref.Owner == "" {
			return ""
		}
		return fmt.Sprintf("%s/img/%s/plain/%s/%s@jpeg", base, s.Size, ref.Owner, ref.CID)
	}
	return fmt.Sprintf("%s/img/%s/plain/%s@jpeg", base, s.Size, ref.CID)
}

// Fetch implements Source.
func (s *CDNSource) Fetch(ctx context.Context, ref domain.ImageRef) (image.Image, error) {
	target := s.URL(ref)
	if target == "" {
		return nil, ErrNotApplicable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := s.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return decode(data)
}

// BlobGetter downloads a raw blob. *bluesky.Client implements it.
type BlobGetter interface {
	GetBlob(ctx context.Context, did, cid string) ([]byte, error)
}

// BlobSource fetches the original blob through the authenticated API.
type BlobSource struct {
	Client BlobGetter
}

// Name implements Source.
func (s *BlobSource) Name() string {
	return "blob"
}

// Fetch implements Source.
func (s *BlobSource) Fetch(ctx context.Context, ref domain.ImageRef) (image.Image, error) {
	if s.Client == nil || ref.Owner == "" {
		return nil, ErrNotApplicable
	}
	data, err := s.Client.GetBlob(ctx, ref.Owner, ref.CID)
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return decode(data)
}

var defaultHTTPClient = &http.Client{Timeout: 20 * time.Second}

func decode(data []byte) (image.Image, error) {
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty %s image", format)
	}
	return img, nil
}

// DefaultSources returns the standard order: owner-scoped thumbnail and full
// size, owner-agnostic thumbnail and full size, then the authenticated blob
// endpoint when blobs is non-nil.
func DefaultSources(cdnBase string, httpClient *http.Client, blobs BlobGetter) []Source {
	sources := []Source{
		&CDNSource{BaseURL: cdnBase, Size: SizeThumbnail, OwnerScoped: true, HTTPClient: httpClient},
		&CDNSource{BaseURL: cdnBase, Size: SizeFullsize, OwnerScoped: true, HTTPClient: httpClient},
		&CDNSource{BaseURL: cdnBase, Size: SizeThumbnail, HTTPClient: httpClient},
		&CDNSource{BaseURL: cdnBase, Size: SizeFullsize, HTTPClient: httpClient},
	}
	if blobs != nil {
		sources = append(sources, &BlobSource{Client: blobs})
	}
	return sources
}
