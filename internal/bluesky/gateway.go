package bluesky

import (
	"context"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// Gateway adapts Client to the domain ports.
type Gateway struct {
	client *Client
}

var (
	_ domain.FollowGraph   = (*Client)(nil)
	_ domain.ProfileReader = (*Gateway)(nil)
	_ domain.ReplyPoster   = (*Gateway)(nil)
)

// NewGateway wraps an authenticated client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// GetProfile implements domain.ProfileReader.
func (g *Gateway) GetProfile(ctx context.Context, actor string) (*domain.Profile, error) {
	p, err := g.client.GetProfile(ctx, actor)
	if err != nil {
		return nil, err
	}
	return p.ToProfile(), nil
}

// CreateReply implements domain.ReplyPoster.
func (g *Gateway) CreateReply(ctx context.Context, text string, ref domain.ReplyRef, langs []string) (domain.StrongRef, error) {
	record := PostRecord{
		Text:  text,
		Langs: langs,
		Reply: &ReplyRef{
			Root:   StrongRef{URI: ref.Root.URI, CID: ref.Root.CID},
			Parent: StrongRef{URI: ref.Parent.URI, CID: ref.Parent.CID},
		},
	}
	created, err := g.client.CreatePost(ctx, record)
	if err != nil {
		return domain.StrongRef{}, err
	}
	return domain.StrongRef{URI: created.URI, CID: created.CID}, nil
}

// ThreadReplyAuthors returns the DIDs of the direct replies to uri.
func (g *Gateway) ThreadReplyAuthors(ctx context.Context, uri string) ([]string, error) {
	thread, err := g.client.GetPostThread(ctx, uri, 1)
	if err != nil {
		return nil, err
	}
	var dids []string
	for _, r := range thread.Replies {
		if r.Post != nil {
			dids = append(dids, r.Post.Author.DID)
		}
	}
	return dids, nil
}

// Notifications returns recent notifications as domain values.
func (g *Gateway) Notifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	views, err := g.client.ListNotifications(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(views))
	for i := range views {
		out = append(out, views[i].ToNotification())
	}
	return out, nil
}

// TimelineSource yields the newest page of the home timeline.
type TimelineSource struct {
	client *Client
	limit  int
}

var _ domain.CandidateSource = (*TimelineSource)(nil)

// NewTimelineSource creates a source reading limit posts per run.
func NewTimelineSource(client *Client, limit int) *TimelineSource {
	return &TimelineSource{client: client, limit: limit}
}

// Candidates implements domain.CandidateSource.
func (s *TimelineSource) Candidates(ctx context.Context) ([]domain.Post, error) {
	feed, err := s.client.GetTimeline(ctx, s.limit)
	if err != nil {
		return nil, err
	}
	// A post reposted by several follows shows up more than once.
	seen := make(map[string]struct{}, len(feed))
	posts := make([]domain.Post, 0, len(feed))
	for i := range feed {
		if _, dup := seen[feed[i].Post.URI]; dup {
			continue
		}
		seen[feed[i].Post.URI] = struct{}{}
		posts = append(posts, feed[i].Post.ToPost())
	}
	return posts, nil
}
