package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SkipReason names the eligibility predicate that rejected a post. The empty
// reason means the post is eligible.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipAlreadyReplied  SkipReason = "already-replied"
	SkipSelfAuthored    SkipReason = "self-authored"
	SkipQuoteRepost     SkipReason = "quote-repost"
	SkipAlreadyReposted SkipReason = "already-reposted"
	SkipUnrelatedReply  SkipReason = "unrelated-reply"
	SkipNoImage         SkipReason = "no-image"
	SkipNotMutual       SkipReason = "not-mutual"
)

// Identity is the bot's own account.
type Identity struct {
	DID    string
	Handle string
}

// EligibilityConfig holds the inputs of the eligibility predicates.
type EligibilityConfig struct {
	Self Identity

	// Reposted holds record keys and normalized URIs of posts the bot has
	// already reposted.
	Reposted map[string]struct{}

	// PriorityTag is a mention or hashtag that keeps a reply eligible even when
	// it is not addressed to the bot. Empty disables the exception.
	PriorityTag string
}

// Eligibility runs the fixed-order skip predicates over a post.
type Eligibility struct {
	cfg     EligibilityConfig
	history HistoryStore
	mutuals *MutualChecker
}

// NewEligibility creates the predicate chain.
func NewEligibility(cfg EligibilityConfig, history HistoryStore, mutuals *MutualChecker) *Eligibility {
	return &Eligibility{cfg: cfg, history: history, mutuals: mutuals}
}

// Check returns the first predicate that rejects the post, or SkipNone. The
// order is fixed: history, self, quote, reposted, unrelated reply, image,
// mutual follow. The mutual check is last because it is the only one that
// needs the network.
func (e *Eligibility) Check(ctx context.Context, p *Post) SkipReason {
	switch {
	case e.history.ShouldSkip(NormalizeURI(p.URI)):
		return SkipAlreadyReplied
	case e.isSelf(p):
		return SkipSelfAuthored
	case p.Quote:
		return SkipQuoteRepost
	case e.isReposted(p):
		return SkipAlreadyReposted
	case e.isUnrelatedReply(p):
		return SkipUnrelatedReply
	case len(p.Images) == 0:
		return SkipNoImage
	case !e.mutuals.IsMutual(ctx, p.AuthorDID):
		return SkipNotMutual
	}
	return SkipNone
}

func (e *Eligibility) isSelf(p *Post) bool {
	self := e.cfg.Self
	if self.DID != "" && p.AuthorDID == self.DID {
		return true
	}
	return self.Handle != "" && strings.EqualFold(p.AuthorHandle, self.Handle)
}

func (e *Eligibility) isReposted(p *Post) bool {
	if len(e.cfg.Reposted) == 0 {
		return false
	}
	if _, ok := e.cfg.Reposted[RecordKey(p.URI)]; ok {
		return true
	}
	_, ok := e.cfg.Reposted[NormalizeURI(p.URI)]
	return ok
}

func (e *Eligibility) isUnrelatedReply(p *Post) bool {
	if !p.IsReply() {
		return false
	}
	if tag := e.cfg.PriorityTag; tag != "" && strings.Contains(strings.ToLower(p.Text), strings.ToLower(tag)) {
		return false
	}
	return e.cfg.Self.DID == "" || URIAuthority(p.Reply.Parent.URI) != e.cfg.Self.DID
}

// MutualChecker answers "does the bot follow this author and does the author
// follow the bot". The bot's own follow and follower lists are fetched once
// and cached for the lifetime of the checker.
type MutualChecker struct {
	graph  FollowGraph
	self   string
	logger *slog.Logger

	loaded    bool
	follows   map[string]struct{}
	followers map[string]struct{}
}

// NewMutualChecker creates a checker for the bot identified by selfDID.
func NewMutualChecker(graph FollowGraph, selfDID string, logger *slog.Logger) *MutualChecker {
	return &MutualChecker{graph: graph, self: selfDID, logger: logger}
}

// IsMutual reports whether actor and the bot follow each other. Lookup errors
// count as "not mutual".
func (m *MutualChecker) IsMutual(ctx context.Context, actor string) bool {
	if err := m.load(ctx); err != nil {
		m.logger.Warn("mutual follow check failed", "actor", actor, "error", err)
		return false
	}
	_, following := m.follows[actor]
	_, followed := m.followers[actor]
	return following && followed
}

func (m *MutualChecker) load(ctx context.Context) error {
	if m.loaded {
		return nil
	}

	follows, err := m.graph.Follows(ctx, m.self)
	if err != nil {
		return fmt.Errorf("get follows: %w", err)
	}
	followers, err := m.graph.Followers(ctx, m.self)
	if err != nil {
		return fmt.Errorf("get followers: %w", err)
	}

	m.follows = toSet(follows)
	m.followers = toSet(followers)
	m.loaded = true
	m.logger.Debug("loaded follow graph", "follows", len(m.follows), "followers", len(m.followers))
	return nil
}

// FollowedDIDs returns the DIDs the bot follows, loading them if needed.
func (m *MutualChecker) FollowedDIDs(ctx context.Context) ([]string, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	dids := make([]string, 0, len(m.follows))
	for did := range m.follows {
		dids = append(dids, did)
	}
	return dids, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
