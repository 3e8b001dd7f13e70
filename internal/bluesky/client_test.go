package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

const botDID = "did:plc:mirin"

// fakePDS serves the XRPC endpoints the client uses. Handlers registered
// through handle replace the defaults.
type fakePDS struct {
	*httptest.Server
	mux     *http.ServeMux
	created []createRecordRequest
}

func newFakePDS(t *testing.T) *fakePDS {
	t.Helper()
	p := &fakePDS{mux: http.NewServeMux()}
	p.mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "app-pass" {
			http.Error(w, `{"error":"AuthenticationRequired"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, sessionResponse{AccessJwt: "access-1", RefreshJwt: "refresh-1", DID: botDID, Handle: "mirin.bsky.social"})
	})
	p.mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refresh-saved" {
			http.Error(w, `{"error":"ExpiredToken"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, sessionResponse{AccessJwt: "access-2", RefreshJwt: "refresh-2", DID: botDID, Handle: "mirin.bsky.social"})
	})
	p.mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		var req createRecordRequest
		var rec PostRecord
		raw := struct {
			Repo       string          `json:"repo"`
			Collection string          `json:"collection"`
			Record     json.RawMessage `json:"record"`
		}{}
		json.NewDecoder(r.Body).Decode(&raw)
		json.Unmarshal(raw.Record, &rec)
		req.Repo, req.Collection, req.Record = raw.Repo, raw.Collection, rec
		p.created = append(p.created, req)
		writeJSON(w, StrongRef{URI: "at://" + botDID + "/app.bsky.feed.post/reply1", CID: "bafyreply"})
	})
	p.Server = httptest.NewServer(p.mux)
	t.Cleanup(p.Close)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func loggedIn(t *testing.T, pds *fakePDS) *Client {
	t.Helper()
	c := NewClient(pds.URL + "/")
	require.NoError(t, c.Login(context.Background(), "mirin.bsky.social", "app-pass"))
	return c
}

func TestAuthenticate_ResumesSavedSession(t *testing.T) {
	pds := newFakePDS(t)
	session := filepath.Join(t.TempDir(), "session.txt")
	require.NoError(t, os.WriteFile(session, []byte("refresh-saved\n"), 0o600))

	c := NewClient(pds.URL)
	resumed, err := c.Authenticate(context.Background(), "mirin.bsky.social", "", session)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, botDID, c.DID())

	data, err := os.ReadFile(session)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2\n", string(data))
}

func TestAuthenticate_FallsBackToPassword(t *testing.T) {
	pds := newFakePDS(t)
	session := filepath.Join(t.TempDir(), "session.txt")
	require.NoError(t, os.WriteFile(session, []byte("refresh-expired"), 0o600))

	c := NewClient(pds.URL)
	resumed, err := c.Authenticate(context.Background(), "mirin.bsky.social", "app-pass", session)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, "mirin.bsky.social", c.Handle())

	data, err := os.ReadFile(session)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1\n", string(data))
}

func TestAuthenticate_Errors(t *testing.T) {
	pds := newFakePDS(t)
	session := filepath.Join(t.TempDir(), "missing.txt")

	_, err := NewClient(pds.URL).Authenticate(context.Background(), "mirin.bsky.social", "", session)
	assert.ErrorContains(t, err, "no usable session")

	_, err = NewClient(pds.URL).Authenticate(context.Background(), "mirin.bsky.social", "wrong", session)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClient_RequiresSession(t *testing.T) {
	c := NewClient("")
	ctx := context.Background()

	_, err := c.GetTimeline(ctx, 10)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.Follows(ctx, botDID)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.GetBlob(ctx, botDID, "bafkrei")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.CreatePost(ctx, PostRecord{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_FollowsPaginates(t *testing.T) {
	pds := newFakePDS(t)
	pds.mux.HandleFunc("/xrpc/app.bsky.graph.getFollows", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, botDID, r.URL.Query().Get("actor"))
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(w, graphResponse{Cursor: "page2", Follows: []ProfileView{{DID: "did:plc:a"}, {DID: "did:plc:b"}}})
		case "page2":
			writeJSON(w, graphResponse{Follows: []ProfileView{{DID: "did:plc:c"}}})
		}
	})
	c := loggedIn(t, pds)

	dids, err := c.Follows(context.Background(), botDID)
	require.NoError(t, err)
	assert.Equal(t, []string{"did:plc:a", "did:plc:b", "did:plc:c"}, dids)
}

func TestClient_GetBlob(t *testing.T) {
	pds := newFakePDS(t)
	pds.mux.HandleFunc("/xrpc/com.atproto.sync.getBlob", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cid") != "bafkreiok" {
			http.Error(w, `{"error":"BlobNotFound"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte("blob-bytes"))
	})
	c := loggedIn(t, pds)

	data, err := c.GetBlob(context.Background(), "did:plc:a", "bafkreiok")
	require.NoError(t, err)
	assert.Equal(t, "blob-bytes", string(data))

	_, err = c.GetBlob(context.Background(), "did:plc:a", "bafkreimissing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Body, "BlobNotFound")
}

func TestGateway_CreateReply(t *testing.T) {
	pds := newFakePDS(t)
	g := NewGateway(loggedIn(t, pds))

	ref := domain.ReplyRef{
		Root:   domain.StrongRef{URI: "at://did:plc:a/app.bsky.feed.post/root", CID: "bafyroot"},
		Parent: domain.StrongRef{URI: "at://did:plc:a/app.bsky.feed.post/parent", CID: "bafyparent"},
	}
	created, err := g.CreateReply(context.Background(), "ふわふわだね♡", ref, []string{"ja"})
	require.NoError(t, err)
	assert.Equal(t, "at://"+botDID+"/app.bsky.feed.post/reply1", created.URI)

	require.Len(t, pds.created, 1)
	req := pds.created[0]
	assert.Equal(t, botDID, req.Repo)
	assert.Equal(t, "app.bsky.feed.post", req.Collection)
	rec := req.Record.(PostRecord)
	assert.Equal(t, "app.bsky.feed.post", rec.Type)
	assert.Equal(t, "ふわふわだね♡", rec.Text)
	assert.Equal(t, []string{"ja"}, rec.Langs)
	assert.NotEmpty(t, rec.CreatedAt)
	require.NotNil(t, rec.Reply)
	assert.Equal(t, "bafyroot", rec.Reply.Root.CID)
	assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/parent", rec.Reply.Parent.URI)
}

func TestGateway_ThreadReplyAuthors(t *testing.T) {
	pds := newFakePDS(t)
	pds.mux.HandleFunc("/xrpc/app.bsky.feed.getPostThread", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("depth"))
		writeJSON(w, threadResponse{Thread: ThreadViewPost{
			Post: &PostView{URI: r.URL.Query().Get("uri")},
			Replies: []ThreadViewPost{
				{Post: &PostView{Author: ProfileView{DID: "did:plc:a"}}},
				{Type: "app.bsky.feed.defs#blockedPost"},
				{Post: &PostView{Author: ProfileView{DID: botDID}}},
			},
		}})
	})
	g := NewGateway(loggedIn(t, pds))

	dids, err := g.ThreadReplyAuthors(context.Background(), "at://did:plc:a/app.bsky.feed.post/p")
	require.NoError(t, err)
	assert.Equal(t, []string{"did:plc:a", botDID}, dids)
}

func TestTimelineSource_Candidates(t *testing.T) {
	pds := newFakePDS(t)
	pds.mux.HandleFunc("/xrpc/app.bsky.feed.getTimeline", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"feed":[
			{"post":{"uri":"at://did:plc:a/app.bsky.feed.post/1","cid":"bafy1","author":{"did":"did:plc:a","handle":"a.test"},
				"record":{"text":"ふわふわ","createdAt":"2025-06-01T11:59:00Z","embed":{"$type":"app.bsky.embed.images","images":[{"alt":"bunny","image":{"$type":"blob","ref":{"$link":"bafkreiaaa"},"mimeType":"image/jpeg","size":1}}]}},
				"indexedAt":"2025-06-01T12:00:00Z"}},
			{"post":{"uri":"at://did:plc:a/app.bsky.feed.post/1","cid":"bafy1","author":{"did":"did:plc:a","handle":"a.test"},"record":{"text":"ふわふわ"}},
				"reason":{"$type":"app.bsky.feed.defs#reasonRepost"}},
			{"post":{"uri":"at://did:plc:b/app.bsky.feed.post/2","cid":"bafy2","author":{"did":"did:plc:b","handle":"b.test"},
				"record":{"text":"見て","createdAt":"2025-06-01T10:00:00Z","embed":{"$type":"app.bsky.embed.recordWithMedia",
					"record":{"record":{"uri":"at://did:plc:c/app.bsky.feed.post/9","cid":"bafy9"}},
					"media":{"$type":"app.bsky.embed.images","images":[{"alt":"","image":{"cid":"bafkreilegacy","mimeType":"image/png"}}]}}}}}
		]}`))
	})
	src := NewTimelineSource(loggedIn(t, pds), 20)

	posts, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)

	first := posts[0]
	assert.False(t, first.Quote)
	assert.Equal(t, "2025-06-01T12:00:00Z", first.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, []domain.ImageRef{{CID: "bafkreiaaa", Owner: "did:plc:a", Alt: "bunny"}}, first.Images)

	second := posts[1]
	assert.True(t, second.Quote)
	assert.Equal(t, "2025-06-01T10:00:00Z", second.Timestamp.Format("2006-01-02T15:04:05Z07:00"), "falls back to createdAt")
	assert.Equal(t, "bafkreilegacy", second.Images[0].CID)
}

func TestNewPost_Reply(t *testing.T) {
	rec := &PostRecord{
		Text: "@mirin.bsky.social 見て",
		Reply: &ReplyRef{
			Root:   StrongRef{URI: "at://did:plc:r/app.bsky.feed.post/0", CID: "bafy0"},
			Parent: StrongRef{URI: "at://" + botDID + "/app.bsky.feed.post/5", CID: "bafy5"},
		},
		Embed: &Embed{Type: "app.bsky.embed.record", Record: json.RawMessage(`{"uri":"x","cid":"y"}`)},
	}
	p := NewPost("at://did:plc:a/app.bsky.feed.post/6", "bafy6", "did:plc:a", "a.test", rec, "not-a-time")

	assert.True(t, p.IsReply())
	assert.True(t, p.Quote)
	assert.Empty(t, p.Images)
	assert.True(t, p.Timestamp.IsZero())
	assert.Equal(t, "bafy0", p.Reply.Root.CID)
}
