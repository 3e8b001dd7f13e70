package domain

import "time"

// Post is a candidate post pulled from the timeline (or the firehose). It is
// treated as immutable while the pipeline runs.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content identifier of the post record.
	CID string

	// AuthorDID is the DID of the post's author.
	AuthorDID string

	// AuthorHandle is the author's handle at fetch time, if known.
	AuthorHandle string

	// Text is the post body.
	Text string

	// Images are the image blobs attached to the post, in record order.
	Images []ImageRef

	// Quote is true when the post embeds another record (a quote-repost),
	// including the record-with-media shape.
	Quote bool

	// Reply is set when the post is a reply to another post.
	Reply *ReplyRef

	// Timestamp is when the post was indexed, falling back to its createdAt.
	// It is the cooldown reference point written to history.
	Timestamp time.Time
}

// IsReply reports whether the post replies to another post.
func (p *Post) IsReply() bool {
	return p.Reply != nil && p.Reply.Parent.URI != ""
}

// Ref returns a strong reference to the post itself.
func (p *Post) Ref() StrongRef {
	return StrongRef{URI: p.URI, CID: p.CID}
}

// HistoryTime is the cooldown reference for p: its own timestamp, or now when
// the post carried none that parsed. A zero time would never expire.
func (p *Post) HistoryTime(now time.Time) time.Time {
	if p.Timestamp.IsZero() {
		return now.UTC()
	}
	return p.Timestamp
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string
	CID string
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef
	Parent StrongRef
}

// ReplyTarget returns the reply reference a response to p should carry: the
// parent is p itself and the root is p's thread root when p is a reply.
func ReplyTarget(p *Post) ReplyRef {
	self := p.Ref()
	if p.IsReply() && p.Reply.Root.URI != "" {
		return ReplyRef{Root: p.Reply.Root, Parent: self}
	}
	return ReplyRef{Root: self, Parent: self}
}

// ImageRef identifies an image blob. Owner is the DID of the repo holding the
// blob and may be empty when unknown.
type ImageRef struct {
	CID   string
	Owner string
	Alt   string
}

// Profile is the subset of an actor profile used for language detection.
type Profile struct {
	DID         string
	Handle      string
	DisplayName string
	Description string
}

// Notification is a mention or reply addressed to the bot.
type Notification struct {
	// Reason is the notification reason, e.g. "mention" or "reply".
	Reason string

	// Post is the notifying post.
	Post Post
}
