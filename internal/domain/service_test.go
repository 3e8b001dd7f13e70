package domain

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	posts []Post
	err   error
}

func (s staticSource) Candidates(context.Context) ([]Post, error) { return s.posts, s.err }

// stubImages returns an image for every CID in ok and nothing otherwise.
type stubImages struct {
	ok      map[string]bool
	fetched []string
}

func (s *stubImages) Fetch(_ context.Context, ref ImageRef) (image.Image, bool) {
	s.fetched = append(s.fetched, ref.CID)
	if !s.ok[ref.CID] {
		return nil, false
	}
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), true
}

// textClassifier passes every post unless its text is in reject.
type textClassifier struct {
	reject map[string]bool
}

func (textClassifier) Summarize(image.Image) ImageSummary { return ImageSummary{} }

func (c textClassifier) Classify(_ *ImageSummary, text string) Classification {
	if c.reject[text] {
		return Classification{Category: CategoryFood}
	}
	return Classification{Category: CategoryFluffy, Pass: true}
}

type recordingComposer struct {
	requests []ReplyRequest
}

func (c *recordingComposer) Compose(_ context.Context, req ReplyRequest) string {
	c.requests = append(c.requests, req)
	return "ふわふわだね♡"
}

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) CreateReply(ctx context.Context, text string, ref ReplyRef, langs []string) (StrongRef, error) {
	args := m.Called(ctx, text, ref, langs)
	return args.Get(0).(StrongRef), args.Error(1)
}

type staticProfiles map[string]*Profile

func (p staticProfiles) GetProfile(_ context.Context, actor string) (*Profile, error) {
	if prof, ok := p[actor]; ok {
		return prof, nil
	}
	return nil, errors.New("profile not found")
}

type countingMetrics struct {
	NopMetrics
	candidates int
	skipped    map[SkipReason]int
	finished   map[Outcome]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{skipped: map[SkipReason]int{}, finished: map[Outcome]int{}}
}

func (m *countingMetrics) Candidate()           { m.candidates++ }
func (m *countingMetrics) Skipped(r SkipReason) { m.skipped[r]++ }
func (m *countingMetrics) Finished(o Outcome)   { m.finished[o]++ }

func friendPost(rkey, text string, ts time.Time, images ...string) Post {
	p := Post{
		URI:          "at://did:plc:friend/app.bsky.feed.post/" + rkey,
		CID:          "cid-" + rkey,
		AuthorDID:    "did:plc:friend",
		AuthorHandle: "friend.bsky.social",
		Text:         text,
		Timestamp:    ts,
	}
	for _, cid := range images {
		p.Images = append(p.Images, ImageRef{CID: cid, Owner: p.AuthorDID})
	}
	return p
}

type serviceFixture struct {
	svc      *EngagementService
	history  *fakeHistory
	images   *stubImages
	composer *recordingComposer
	poster   *mockPoster
	metrics  *countingMetrics
	sleeps   []time.Duration
}

func newServiceFixture(t *testing.T, posts []Post, gateDraw float64) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		history:  newFakeHistory("at://did:plc:friend/app.bsky.feed.post/seen"),
		images:   &stubImages{ok: map[string]bool{"img-ok": true, "img-ok-2": true}},
		composer: &recordingComposer{},
		poster:   &mockPoster{},
		metrics:  newCountingMetrics(),
	}
	svc, err := NewEngagementService(
		EngagementConfig{DelayMin: time.Second, DelayMax: time.Second},
		EngagementDeps{
			Source:      staticSource{posts: posts},
			Eligibility: newTestEligibility(f.history, nil),
			Images:      f.images,
			Classifier:  textClassifier{reject: map[string]bool{"今日のランチ": true}},
			Gate:        NewGate(0.5, func() float64 { return gateDraw }),
			Profiles: staticProfiles{
				"did:plc:friend": {DID: "did:plc:friend", Description: "Cat photos from the UK"},
			},
			Composer: f.composer,
			Poster:   f.poster,
			History:  f.history,
			Metrics:  f.metrics,
		},
		discard,
	)
	require.NoError(t, err)
	svc.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.svc = svc
	return f
}

func TestEngagementService_Run(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := []Post{
		friendPost("old", "ふわふわ", base, "img-ok"),
		friendPost("seen", "ふわふわ", base.Add(time.Minute), "img-ok"),
		friendPost("food", "今日のランチ", base.Add(2*time.Minute), "img-ok"),
		friendPost("broken", "ふわふわ", base.Add(3*time.Minute), "img-bad"),
		friendPost("second", "ふわふわ", base.Add(4*time.Minute), "img-bad", "img-ok-2"),
		friendPost("noimg", "ふわふわ", base.Add(5*time.Minute)),
	}
	f := newServiceFixture(t, posts, 0.9)

	f.poster.On("CreateReply", mock.Anything, "ふわふわだね♡", mock.Anything, []string{LangEnglish}).
		Return(StrongRef{URI: "at://" + botDID + "/app.bsky.feed.post/r"}, nil)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Candidates)
	assert.Equal(t, 2, stats.Outcomes[OutcomeReplied])
	assert.Equal(t, 1, stats.Outcomes[OutcomeRejected])
	assert.Equal(t, 1, stats.Outcomes[OutcomeNoImage])
	assert.Equal(t, 2, stats.Outcomes[OutcomeFiltered])
	f.poster.AssertNumberOfCalls(t, "CreateReply", 2)

	// Newest first: "second" is replied to before "old".
	require.Len(t, f.composer.requests, 2)
	assert.Equal(t, LangEnglish, f.composer.requests[0].Lang)
	assert.Equal(t, CategoryFluffy, f.composer.requests[0].Category)

	// Every image is tried until one decodes.
	assert.Equal(t, []string{"img-bad", "img-ok-2", "img-bad", "img-ok", "img-ok"}, f.images.fetched)

	// Everything but the already-replied post lands in history with its own timestamp.
	assert.Len(t, f.history.recorded, 5)
	assert.Equal(t, base, f.history.recorded["at://did:plc:friend/app.bsky.feed.post/old"])
	assert.NotContains(t, f.history.recorded, "at://did:plc:friend/app.bsky.feed.post/seen")

	assert.Len(t, f.sleeps, 5)
	assert.Equal(t, 6, f.metrics.candidates)
	assert.Equal(t, 1, f.metrics.skipped[SkipAlreadyReplied])
	assert.Equal(t, 1, f.metrics.skipped[SkipNoImage])
}

func TestEngagementService_GateSkipsWithoutPosting(t *testing.T) {
	f := newServiceFixture(t, []Post{friendPost("a", "ふわふわ", time.Now(), "img-ok")}, 0.1)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Outcomes[OutcomeGated])
	f.poster.AssertNotCalled(t, "CreateReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Contains(t, f.history.recorded, "at://did:plc:friend/app.bsky.feed.post/a")
}

func TestEngagementService_PostFailureIsRecorded(t *testing.T) {
	f := newServiceFixture(t, []Post{friendPost("a", "ふわふわ", time.Now(), "img-ok")}, 0.9)
	f.poster.On("CreateReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(StrongRef{}, errors.New("upstream 502"))

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Outcomes[OutcomeFailed])
	assert.Equal(t, 1, f.metrics.finished[OutcomeFailed])
	assert.Contains(t, f.history.recorded, "at://did:plc:friend/app.bsky.feed.post/a")
}

// panickyClassifier panics while classifying posts whose text is "panic".
type panickyClassifier struct {
	textClassifier
}

func (c panickyClassifier) Classify(summary *ImageSummary, text string) Classification {
	if text == "panic" {
		panic("classifier exploded")
	}
	return c.textClassifier.Classify(summary, text)
}

func TestEngagementService_PanicIsRecordedAndRunContinues(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := []Post{
		friendPost("boom", "panic", base.Add(time.Minute), "img-ok"),
		friendPost("next", "ふわふわ", base, "img-ok"),
	}
	f := newServiceFixture(t, posts, 0.9)
	f.svc.deps.Classifier = panickyClassifier{}
	f.poster.On("CreateReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(StrongRef{URI: "at://" + botDID + "/app.bsky.feed.post/r"}, nil)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Outcomes[OutcomeFailed])
	assert.Equal(t, 1, stats.Outcomes[OutcomeReplied])
	assert.Equal(t, base.Add(time.Minute), f.history.recorded["at://did:plc:friend/app.bsky.feed.post/boom"])
	assert.Contains(t, f.history.recorded, "at://did:plc:friend/app.bsky.feed.post/next")
	f.poster.AssertNumberOfCalls(t, "CreateReply", 1)
}

func TestEngagementService_RecordsAfterCancel(t *testing.T) {
	f := newServiceFixture(t, []Post{friendPost("a", "ふわふわ", time.Now(), "img-ok")}, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := f.svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Outcomes[OutcomeGated])
	assert.Contains(t, f.history.recorded, "at://did:plc:friend/app.bsky.feed.post/a")
	require.Len(t, f.history.ctxErrs, 1)
	assert.NoError(t, f.history.ctxErrs[0], "history must be written with a live context")
}

func TestEngagementService_ZeroTimestampRecordsNow(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	f := newServiceFixture(t, []Post{friendPost("a", "ふわふわ", time.Time{}, "img-ok")}, 0.1)
	f.svc.now = func() time.Time { return now }

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, f.history.recorded["at://did:plc:friend/app.bsky.feed.post/a"])
}

func TestEngagementService_ReplyTargetsThreadRoot(t *testing.T) {
	p := friendPost("a", "ふわふわ", time.Now(), "img-ok")
	root := StrongRef{URI: "at://" + botDID + "/app.bsky.feed.post/root", CID: "cid-root"}
	p.Reply = &ReplyRef{Root: root, Parent: root}
	f := newServiceFixture(t, []Post{p}, 0.9)

	want := ReplyRef{Root: root, Parent: StrongRef{URI: p.URI, CID: p.CID}}
	f.poster.On("CreateReply", mock.Anything, mock.Anything, want, mock.Anything).Return(StrongRef{}, nil)

	_, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	f.poster.AssertExpectations(t)
}

func TestEngagementService_SourceError(t *testing.T) {
	svc, err := NewEngagementService(EngagementConfig{}, EngagementDeps{
		Source:      staticSource{err: errors.New("timeline unavailable")},
		Eligibility: newTestEligibility(newFakeHistory(), nil),
		Images:      &stubImages{},
		Classifier:  textClassifier{},
		Gate:        NewGate(0, nil),
		Composer:    &recordingComposer{},
		Poster:      &mockPoster{},
		History:     newFakeHistory(),
	}, discard)
	require.NoError(t, err)

	_, err = svc.Run(context.Background())
	assert.ErrorContains(t, err, "fetch candidates: timeline unavailable")
}

func TestEngagementService_InterruptStopsBetweenPosts(t *testing.T) {
	posts := []Post{
		friendPost("a", "ふわふわ", time.Now(), "img-ok"),
		friendPost("b", "ふわふわ", time.Now().Add(-time.Minute), "img-ok"),
	}
	f := newServiceFixture(t, posts, 0.1)
	f.svc.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Outcomes[OutcomeGated])
	assert.Len(t, f.history.recorded, 1)
}

func TestNewEngagementService_Validation(t *testing.T) {
	_, err := NewEngagementService(EngagementConfig{}, EngagementDeps{}, discard)
	assert.Error(t, err)

	_, err = NewEngagementService(EngagementConfig{DelayMin: 2 * time.Second, DelayMax: time.Second}, EngagementDeps{
		Source:      staticSource{},
		Eligibility: newTestEligibility(newFakeHistory(), nil),
		Images:      &stubImages{},
		Classifier:  textClassifier{},
		Gate:        NewGate(0, nil),
		Composer:    &recordingComposer{},
		Poster:      &mockPoster{},
		History:     newFakeHistory(),
	}, discard)
	assert.ErrorContains(t, err, "delay max")
}
