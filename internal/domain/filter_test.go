package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const botDID = "did:plc:mirin"

type fakeHistory struct {
	skip     map[string]bool
	recorded map[string]time.Time

	// ctxErrs holds ctx.Err() as seen by each Record call.
	ctxErrs []error
}

func newFakeHistory(skip ...string) *fakeHistory {
	h := &fakeHistory{skip: map[string]bool{}, recorded: map[string]time.Time{}}
	for _, k := range skip {
		h.skip[k] = true
	}
	return h
}

func (h *fakeHistory) ShouldSkip(key string) bool { return h.skip[key] }

func (h *fakeHistory) Record(ctx context.Context, key string, ts time.Time) {
	h.recorded[key] = ts
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
}

type fakeGraph struct {
	follows   []string
	followers []string
	err       error
	calls     int
}

func (g *fakeGraph) Follows(context.Context, string) ([]string, error) {
	g.calls++
	return g.follows, g.err
}

func (g *fakeGraph) Followers(context.Context, string) ([]string, error) {
	return g.followers, g.err
}

func eligiblePost() *Post {
	return &Post{
		URI:          "at://did:plc:friend/app.bsky.feed.post/3kfluffy",
		CID:          "bafyreipost",
		AuthorDID:    "did:plc:friend",
		AuthorHandle: "friend.bsky.social",
		Text:         "ふわふわのうさぎ",
		Images:       []ImageRef{{CID: "bafkreiimage", Owner: "did:plc:friend"}},
	}
}

func newTestEligibility(history HistoryStore, reposted map[string]struct{}) *Eligibility {
	graph := &fakeGraph{
		follows:   []string{"did:plc:friend", "did:plc:oneway"},
		followers: []string{"did:plc:friend"},
	}
	return NewEligibility(EligibilityConfig{
		Self:        Identity{DID: botDID, Handle: "mirin.bsky.social"},
		Reposted:    reposted,
		PriorityTag: "#fuwamoko",
	}, history, NewMutualChecker(graph, botDID, discard))
}

func TestEligibility_Check(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Post)
		want   SkipReason
	}{
		{name: "eligible", mutate: func(*Post) {}, want: SkipNone},
		{name: "already replied", mutate: func(p *Post) { p.URI = "at://did:plc:friend/app.bsky.feed.post/3kseen/extra" }, want: SkipAlreadyReplied},
		{name: "self by did", mutate: func(p *Post) { p.AuthorDID = botDID }, want: SkipSelfAuthored},
		{name: "self by handle", mutate: func(p *Post) { p.AuthorDID = "did:plc:other"; p.AuthorHandle = "Mirin.bsky.social" }, want: SkipSelfAuthored},
		{name: "quote repost", mutate: func(p *Post) { p.Quote = true }, want: SkipQuoteRepost},
		{name: "reposted by record key", mutate: func(p *Post) { p.URI = "at://did:plc:friend/app.bsky.feed.post/3kreposted" }, want: SkipAlreadyReposted},
		{name: "reply to someone else", mutate: func(p *Post) {
			p.Reply = &ReplyRef{Parent: StrongRef{URI: "at://did:plc:other/app.bsky.feed.post/1"}}
		}, want: SkipUnrelatedReply},
		{name: "reply to bot", mutate: func(p *Post) {
			p.Reply = &ReplyRef{Parent: StrongRef{URI: "at://" + botDID + "/app.bsky.feed.post/1"}}
		}, want: SkipNone},
		{name: "reply with priority tag", mutate: func(p *Post) {
			p.Text = "見て！ #FuwaMoko"
			p.Reply = &ReplyRef{Parent: StrongRef{URI: "at://did:plc:other/app.bsky.feed.post/1"}}
		}, want: SkipNone},
		{name: "no image", mutate: func(p *Post) { p.Images = nil }, want: SkipNoImage},
		{name: "one-way follow", mutate: func(p *Post) {
			p.AuthorDID = "did:plc:oneway"
			p.URI = "at://did:plc:oneway/app.bsky.feed.post/3k"
		}, want: SkipNotMutual},
		{name: "history wins over self", mutate: func(p *Post) {
			p.URI = "at://did:plc:friend/app.bsky.feed.post/3kseen"
			p.AuthorDID = botDID
		}, want: SkipAlreadyReplied},
		{name: "quote wins over missing image", mutate: func(p *Post) { p.Quote = true; p.Images = nil }, want: SkipQuoteRepost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := newFakeHistory("at://did:plc:friend/app.bsky.feed.post/3kseen")
			e := newTestEligibility(history, map[string]struct{}{"3kreposted": {}})

			p := eligiblePost()
			tt.mutate(p)
			assert.Equal(t, tt.want, e.Check(context.Background(), p))
		})
	}
}

func TestEligibility_RepostedByURI(t *testing.T) {
	e := newTestEligibility(newFakeHistory(), map[string]struct{}{
		"at://did:plc:friend/app.bsky.feed.post/3kfluffy": {},
	})
	assert.Equal(t, SkipAlreadyReposted, e.Check(context.Background(), eligiblePost()))
}

func TestMutualChecker_LoadsOnce(t *testing.T) {
	graph := &fakeGraph{follows: []string{"did:plc:a", "did:plc:b"}, followers: []string{"did:plc:a"}}
	m := NewMutualChecker(graph, botDID, discard)
	ctx := context.Background()

	assert.True(t, m.IsMutual(ctx, "did:plc:a"))
	assert.False(t, m.IsMutual(ctx, "did:plc:b"))
	assert.False(t, m.IsMutual(ctx, "did:plc:c"))

	dids, err := m.FollowedDIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:plc:a", "did:plc:b"}, dids)
	assert.Equal(t, 1, graph.calls)
}

func TestMutualChecker_ErrorIsNotMutual(t *testing.T) {
	graph := &fakeGraph{err: errors.New("rate limited")}
	m := NewMutualChecker(graph, botDID, discard)

	assert.False(t, m.IsMutual(context.Background(), "did:plc:a"))
	_, err := m.FollowedDIDs(context.Background())
	assert.ErrorContains(t, err, "rate limited")
}

func TestGate(t *testing.T) {
	draws := []float64{0.1, 0.5, 0.9}
	i := 0
	g := NewGate(0.5, func() float64 {
		v := draws[i]
		i++
		return v
	})
	assert.True(t, g.Skip())
	assert.False(t, g.Skip())
	assert.False(t, g.Skip())

	assert.False(t, NewGate(0, func() float64 { return 0 }).Skip())
	assert.True(t, NewGate(1, func() float64 { return 0.999 }).Skip())
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name    string
		profile *Profile
		want    string
	}{
		{name: "nil profile", profile: nil, want: LangJapanese},
		{name: "empty bio", profile: &Profile{}, want: LangJapanese},
		{name: "english bio", profile: &Profile{Description: "Cat lover from the US"}, want: LangEnglish},
		{name: "uk display name", profile: &Profile{DisplayName: "Amy (UK)"}, want: LangEnglish},
		{name: "english keyword", profile: &Profile{Description: "I speak English"}, want: LangEnglish},
		{name: "japanese wins", profile: &Profile{Description: "日本語とEnglish OK"}, want: LangJapanese},
		{name: "no partial word match", profile: &Profile{Description: "music and bonus"}, want: LangJapanese},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.profile))
		})
	}
}
