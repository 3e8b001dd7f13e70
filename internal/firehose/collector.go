// Package firehose collects candidate posts from the Jetstream firehose, as an
// alternative to reading the home timeline.
package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/fuwamoko-bot/internal/bluesky"
	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

const (
	cursorServiceName = "jetstream"

	// DefaultURL is a public Jetstream instance.
	DefaultURL = "wss://jetstream2.us-east.bsky.network/subscribe"

	// maxWantedDids is Jetstream's limit on the wantedDids filter.
	maxWantedDids = 10000
)

// FollowLister returns the DIDs whose posts should be collected.
// *domain.MutualChecker implements it.
type FollowLister interface {
	FollowedDIDs(ctx context.Context) ([]string, error)
}

// Collector reads one window of post events from Jetstream. It resumes from
// the stored cursor, stops when the window elapses or when events catch up to
// the moment the run started, and saves the cursor it reached.
type Collector struct {
	url     string
	cursors domain.CursorRepository
	follows FollowLister
	window  time.Duration
	logger  *slog.Logger

	dialer *websocket.Dialer
	now    func() time.Time
}

var _ domain.CandidateSource = (*Collector)(nil)

// NewCollector creates a firehose collector.
func NewCollector(
	firehoseURL string,
	cursors domain.CursorRepository,
	follows FollowLister,
	window time.Duration,
	logger *slog.Logger,
) *Collector {
	if firehoseURL == "" {
		firehoseURL = DefaultURL
	}
	return &Collector{
		url:     firehoseURL,
		cursors: cursors,
		follows: follows,
		window:  window,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
	}
}

func (c *Collector) buildURL(cursor int64, dids []string) (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	q.Add("wantedCollections", postCollection)
	for _, did := range dids {
		q.Add("wantedDids", did)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Candidates implements domain.CandidateSource.
func (c *Collector) Candidates(ctx context.Context) ([]domain.Post, error) {
	start := c.now()
	deadline := start.Add(c.window)

	dids, err := c.follows.FollowedDIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list followed accounts: %w", err)
	}
	if len(dids) == 0 {
		c.logger.Info("bot follows nobody, no firehose candidates")
		return nil, nil
	}
	if len(dids) > maxWantedDids {
		c.logger.Warn("too many followed accounts for the firehose filter, truncating", "follows", len(dids))
		dids = dids[:maxWantedDids]
	}

	cursor, err := c.cursors.GetCursor(ctx, cursorServiceName)
	if err != nil {
		c.logger.Warn("failed to load cursor, replaying one window", "error", err)
	}
	if cursor == 0 {
		cursor = start.Add(-c.window).UnixMicro()
	}

	wsURL, err := c.buildURL(cursor, dids)
	if err != nil {
		return nil, err
	}
	c.logger.Info("connecting to firehose", "cursor", cursor, "wanted_dids", len(dids))

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	posts, latest, readErr := c.collect(conn, start.UnixMicro())

	if latest > 0 {
		if err := c.cursors.UpdateCursor(context.WithoutCancel(ctx), cursorServiceName, latest); err != nil {
			c.logger.Error("failed to save cursor", "error", err)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if readErr != nil {
		c.logger.Warn("firehose read stopped early", "error", readErr, "collected", len(posts))
	}

	c.logger.Info("firehose window collected", "posts", len(posts), "cursor", latest)
	return posts, nil
}

// collect reads events until the read deadline, an event at or after
// stopAtUS, or a connection error. Deleted posts are dropped from the result.
func (c *Collector) collect(conn *websocket.Conn, stopAtUS int64) ([]domain.Post, int64, error) {
	var (
		latest int64
		order  []string
		listed = make(map[string]bool)
		byURI  = make(map[string]domain.Post)
	)

	result := func() []domain.Post {
		posts := make([]domain.Post, 0, len(byURI))
		for _, uri := range order {
			if p, ok := byURI[uri]; ok {
				posts = append(posts, p)
			}
		}
		return posts
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return result(), latest, nil
			}
			return result(), latest, fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			c.logger.Error("failed to parse event", "error", err)
			continue
		}
		if event.TimeUS > latest {
			latest = event.TimeUS
		}

		if commit := event.Commit; commit != nil && commit.Collection == postCollection {
			uri := commit.uri(event.DID)
			switch commit.Operation {
			case "create":
				if commit.Record != nil {
					post := bluesky.NewPost(uri, commit.CID, event.DID, "", commit.Record, "")
					if post.Timestamp.IsZero() {
						post.Timestamp = time.UnixMicro(event.TimeUS).UTC()
					}
					if !listed[uri] {
						listed[uri] = true
						order = append(order, uri)
					}
					byURI[uri] = post
				}
			case "delete":
				delete(byURI, uri)
			}
		}

		if event.TimeUS >= stopAtUS {
			return result(), latest, nil
		}
	}
}
