package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultPDS = "https://bsky.social"

	// maxBlobBytes caps blob downloads.
	maxBlobBytes = 10 << 20
)

// ErrNotAuthenticated is returned by calls that need a session before Login.
var ErrNotAuthenticated = errors.New("not authenticated: call Login first")

// APIError is a non-2xx XRPC response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Client is a minimal BlueSky/AT Protocol API client covering what the bot
// reads and writes.
type Client struct {
	pds        string
	httpClient *http.Client

	// populated after Login or RefreshSession
	accessJwt  string
	refreshJwt string
	did        string
	handle     string
}

// NewClient creates a new BlueSky API client. If pds is empty, it defaults to
// https://bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds: strings.TrimRight(pds, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates with the PDS and stores the session tokens. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp sessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.setSession(resp)
	return nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshJwt string) error {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/xrpc/com.atproto.server.refreshSession", nil, nil, refreshJwt, &resp); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	c.setSession(resp)
	return nil
}

// Authenticate resumes the session stored in sessionFile when possible and
// falls back to a password login. The file is rewritten with the new refresh
// token either way. resumed reports which path succeeded.
func (c *Client) Authenticate(ctx context.Context, identifier, password, sessionFile string) (resumed bool, err error) {
	if token := readSessionFile(sessionFile); token != "" {
		if err := c.RefreshSession(ctx, token); err == nil {
			return true, c.saveSession(sessionFile)
		}
	}

	if password == "" {
		return false, errors.New("no usable session and no app password")
	}
	if err := c.Login(ctx, identifier, password); err != nil {
		return false, err
	}
	return false, c.saveSession(sessionFile)
}

func (c *Client) setSession(resp sessionResponse) {
	c.accessJwt = resp.AccessJwt
	c.refreshJwt = resp.RefreshJwt
	c.did = resp.DID
	c.handle = resp.Handle
}

func (c *Client) saveSession(path string) error {
	if path == "" || c.refreshJwt == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(c.refreshJwt+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func readSessionFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// Handle returns the authenticated user's handle. Only valid after Login.
func (c *Client) Handle() string {
	return c.handle
}

// GetTimeline returns one page of the authenticated user's home timeline.
func (c *Client) GetTimeline(ctx context.Context, limit int) ([]FeedViewPost, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))

	var resp timelineResponse
	if err := c.get(ctx, "/xrpc/app.bsky.feed.getTimeline", q, &resp); err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	return resp.Feed, nil
}

// GetPostThread returns a post and its direct replies.
func (c *Client) GetPostThread(ctx context.Context, uri string, depth int) (*ThreadViewPost, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	q := url.Values{}
	q.Set("uri", uri)
	q.Set("depth", fmt.Sprintf("%d", depth))
	q.Set("parentHeight", "0")

	var resp threadResponse
	if err := c.get(ctx, "/xrpc/app.bsky.feed.getPostThread", q, &resp); err != nil {
		return nil, fmt.Errorf("get post thread: %w", err)
	}
	if resp.Thread.Post == nil {
		return nil, fmt.Errorf("post thread %s: post not found", uri)
	}
	return &resp.Thread, nil
}

// maxGraphPages bounds follow-list pagination (100 actors per page).
const maxGraphPages = 50

// Follows returns the DIDs actor follows.
func (c *Client) Follows(ctx context.Context, actor string) ([]string, error) {
	return c.graphList(ctx, "/xrpc/app.bsky.graph.getFollows", actor, func(r *graphResponse) []ProfileView { return r.Follows })
}

// Followers returns the DIDs following actor.
func (c *Client) Followers(ctx context.Context, actor string) ([]string, error) {
	return c.graphList(ctx, "/xrpc/app.bsky.graph.getFollowers", actor, func(r *graphResponse) []ProfileView { return r.Followers })
}

func (c *Client) graphList(ctx context.Context, path, actor string, pick func(*graphResponse) []ProfileView) ([]string, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	var (
		dids   []string
		cursor string
	)
	for range maxGraphPages {
		q := url.Values{}
		q.Set("actor", actor)
		q.Set("limit", "100")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp graphResponse
		if err := c.get(ctx, path, q, &resp); err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		for _, p := range pick(&resp) {
			dids = append(dids, p.DID)
		}
		if resp.Cursor == "" || resp.Cursor == cursor {
			break
		}
		cursor = resp.Cursor
	}
	return dids, nil
}

// GetProfile fetches an actor's profile.
func (c *Client) GetProfile(ctx context.Context, actor string) (*ProfileView, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	q := url.Values{}
	q.Set("actor", actor)

	var resp ProfileView
	if err := c.get(ctx, "/xrpc/app.bsky.actor.getProfile", q, &resp); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &resp, nil
}

// CreatePost creates an app.bsky.feed.post record in the authenticated user's
// repo via com.atproto.repo.createRecord.
func (c *Client) CreatePost(ctx context.Context, record PostRecord) (*StrongRef, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	record.Type = "app.bsky.feed.post"
	if record.CreatedAt == "" {
		record.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	body := createRecordRequest{
		Repo:       c.did,
		Collection: "app.bsky.feed.post",
		Record:     record,
	}

	var resp StrongRef
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return &resp, nil
}

// GetBlob downloads a blob from the owner's repo.
func (c *Client) GetBlob(ctx context.Context, did, cid string) ([]byte, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	q := url.Values{}
	q.Set("did", did)
	q.Set("cid", cid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pds+"/xrpc/com.atproto.sync.getBlob?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if len(data) > maxBlobBytes {
		return nil, fmt.Errorf("blob %s exceeds %d bytes", cid, maxBlobBytes)
	}
	return data, nil
}

// ListNotifications returns the most recent notifications.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]NotificationView, error) {
	if c.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))

	var resp notificationsResponse
	if err := c.get(ctx, "/xrpc/app.bsky.notification.listNotifications", q, &resp); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return resp.Notifications, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, c.accessJwt, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, c.accessJwt, result)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, token string, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.pds + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type timelineResponse struct {
	Cursor string         `json:"cursor"`
	Feed   []FeedViewPost `json:"feed"`
}

type threadResponse struct {
	Thread ThreadViewPost `json:"thread"`
}

type graphResponse struct {
	Cursor    string        `json:"cursor"`
	Follows   []ProfileView `json:"follows"`
	Followers []ProfileView `json:"followers"`
}

type notificationsResponse struct {
	Cursor        string             `json:"cursor"`
	Notifications []NotificationView `json:"notifications"`
}
