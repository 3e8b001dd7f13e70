package bluesky

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

const (
	embedImages          = "app.bsky.embed.images"
	embedRecord          = "app.bsky.embed.record"
	embedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// BlobRef represents an AT Protocol blob reference.
type BlobRef struct {
	Type string `json:"$type,omitempty"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`

	// CID is set instead of Ref on legacy blob objects.
	CID string `json:"cid,omitempty"`
}

// Link returns the blob's CID in either encoding.
func (b BlobRef) Link() string {
	if b.Ref.Link != "" {
		return b.Ref.Link
	}
	return b.CID
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// ImageEmbed is one image of an app.bsky.embed.images embed.
type ImageEmbed struct {
	Alt   string  `json:"alt"`
	Image BlobRef `json:"image"`
}

// Embed is the union of the record embeds the bot cares about. Record holds
// either a strong ref (embed.record) or a nested embed.record object
// (embed.recordWithMedia); only its presence matters here.
type Embed struct {
	Type   string          `json:"$type"`
	Images []ImageEmbed    `json:"images,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
	Media  *Embed          `json:"media,omitempty"`
}

// IsQuote reports whether the embed quotes another record.
func (e *Embed) IsQuote() bool {
	if e == nil {
		return false
	}
	switch e.Type {
	case embedRecord, embedRecordWithMedia:
		return true
	}
	return len(e.Record) > 0 && string(e.Record) != "null"
}

// ImageList returns the attached images, looking through record-with-media.
func (e *Embed) ImageList() []ImageEmbed {
	if e == nil {
		return nil
	}
	if len(e.Images) > 0 {
		return e.Images
	}
	if e.Media != nil {
		return e.Media.ImageList()
	}
	return nil
}

// PostRecord is the content of an app.bsky.feed.post record.
type PostRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Embed     *Embed    `json:"embed,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// ProfileView is the actor shape used by feeds, graphs and profiles.
type ProfileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToProfile converts to the domain profile.
func (p *ProfileView) ToProfile() *domain.Profile {
	return &domain.Profile{
		DID:         p.DID,
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		Description: p.Description,
	}
}

// PostView is a hydrated post.
type PostView struct {
	URI       string      `json:"uri"`
	CID       string      `json:"cid"`
	Author    ProfileView `json:"author"`
	Record    PostRecord  `json:"record"`
	IndexedAt string      `json:"indexedAt"`
}

// ToPost converts the view into a pipeline candidate.
func (p *PostView) ToPost() domain.Post {
	return NewPost(p.URI, p.CID, p.Author.DID, p.Author.Handle, &p.Record, p.IndexedAt)
}

// FeedViewPost is one timeline entry.
type FeedViewPost struct {
	Post   PostView `json:"post"`
	Reason *struct {
		Type string `json:"$type"`
	} `json:"reason,omitempty"`
}

// ThreadViewPost is a post with its replies. Post is nil for blocked or
// missing posts.
type ThreadViewPost struct {
	Type    string           `json:"$type"`
	Post    *PostView        `json:"post,omitempty"`
	Replies []ThreadViewPost `json:"replies,omitempty"`
}

// NotificationView is one entry of listNotifications.
type NotificationView struct {
	URI           string      `json:"uri"`
	CID           string      `json:"cid"`
	Author        ProfileView `json:"author"`
	Reason        string      `json:"reason"`
	ReasonSubject string      `json:"reasonSubject,omitempty"`
	Record        PostRecord  `json:"record"`
	IndexedAt     string      `json:"indexedAt"`
}

// ToNotification converts the view to the domain notification.
func (n *NotificationView) ToNotification() domain.Notification {
	return domain.Notification{
		Reason: n.Reason,
		Post:   NewPost(n.URI, n.CID, n.Author.DID, n.Author.Handle, &n.Record, n.IndexedAt),
	}
}

// NewPost builds a domain post from a record. The timestamp is indexedAt when
// it parses, the record's createdAt otherwise.
func NewPost(uri, cid, authorDID, authorHandle string, rec *PostRecord, indexedAt string) domain.Post {
	post := domain.Post{
		URI:          uri,
		CID:          cid,
		AuthorDID:    authorDID,
		AuthorHandle: authorHandle,
		Text:         rec.Text,
		Quote:        rec.Embed.IsQuote(),
		Timestamp:    parseTime(indexedAt),
	}
	if post.Timestamp.IsZero() {
		post.Timestamp = parseTime(rec.CreatedAt)
	}

	for _, img := range rec.Embed.ImageList() {
		post.Images = append(post.Images, domain.ImageRef{
			CID:   img.Image.Link(),
			Owner: authorDID,
			Alt:   img.Alt,
		})
	}

	if rec.Reply != nil {
		post.Reply = &domain.ReplyRef{
			Root:   domain.StrongRef{URI: rec.Reply.Root.URI, CID: rec.Reply.Root.CID},
			Parent: domain.StrongRef{URI: rec.Reply.Parent.URI, CID: rec.Reply.Parent.CID},
		}
	}
	return post
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
