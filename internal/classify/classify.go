// Package classify decides whether a post with an image is "fluffy" enough to
// reply to, from the image's dominant colours and keywords in the post text.
package classify

import (
	"fmt"
	"image"
	"regexp"
	"slices"
	"strings"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// textRule is the compiled keyword set of one category.
type textRule struct {
	category domain.Category
	pattern  *regexp.Regexp
}

// Classifier combines the visual and textual heuristics. It is immutable once
// built and safe for concurrent use.
type Classifier struct {
	rules     Rules
	textRules []textRule
}

var _ domain.Classifier = (*Classifier)(nil)

// NewClassifier compiles the keyword sets in priority order: nsfw, food,
// distress, cosmetics, character art, fluffy.
func NewClassifier(rules Rules) (*Classifier, error) {
	if rules.TopColors <= 0 {
		return nil, fmt.Errorf("top colors must be positive, got %d", rules.TopColors)
	}
	if rules.SoftMinMatches <= 0 || rules.SoftMinMatches > rules.TopColors {
		return nil, fmt.Errorf("soft min matches must be in 1..%d, got %d", rules.TopColors, rules.SoftMinMatches)
	}

	ordered := []struct {
		category domain.Category
		keywords []string
	}{
		{domain.CategoryNSFWRisk, rules.Keywords.NSFW},
		{domain.CategoryFood, rules.Keywords.Food},
		{domain.CategoryDistress, rules.Keywords.Distress},
		{domain.CategoryCosmetics, rules.Keywords.Cosmetics},
		{domain.CategoryCharacterArt, rules.Keywords.CharacterArt},
		{domain.CategoryFluffy, rules.Keywords.Fluffy},
	}

	c := &Classifier{rules: rules}
	for _, o := range ordered {
		if len(o.keywords) == 0 {
			continue
		}
		pattern, err := compileKeywords(o.keywords)
		if err != nil {
			return nil, fmt.Errorf("category %s: compile keyword pattern: %w", o.category, err)
		}
		c.textRules = append(c.textRules, textRule{category: o.category, pattern: pattern})
	}
	return c, nil
}

// compileKeywords builds one case-insensitive alternation. ASCII keywords get
// word boundaries; \b means nothing between two Japanese characters, so the
// rest match as substrings.
func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	alts := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		quoted := regexp.QuoteMeta(strings.ToLower(kw))
		if isASCII(kw) {
			quoted = `\b` + quoted + `\b`
		}
		alts = append(alts, quoted)
	}
	return regexp.Compile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// Summarize implements domain.Classifier.
func (c *Classifier) Summarize(img image.Image) domain.ImageSummary {
	return Summarize(img, c.rules.TopColors)
}

// MatchText returns the first category whose keywords occur in text, with the
// matched keyword.
func (c *Classifier) MatchText(text string) (domain.Category, string) {
	lower := strings.ToLower(text)
	for _, r := range c.textRules {
		if kw := r.pattern.FindString(lower); kw != "" {
			return r.category, kw
		}
	}
	return "", ""
}

// SoftMatches counts how many of the top colours fall in a soft colour family.
func (c *Classifier) SoftMatches(summary *domain.ImageSummary) int {
	n := 0
	for i, cc := range summary.TopColors {
		if i >= c.rules.TopColors {
			break
		}
		if softFamily(cc.Color) != "" {
			n++
		}
	}
	return n
}

// Classify implements domain.Classifier. A text match on a reject category
// vetoes the post before any visual evaluation. Otherwise the image must have
// enough soft colours, and a high skin ratio rejects it unless the soft count
// reaches the override level. Passing posts take the text category, or
// "fluffy" when no keyword matched.
func (c *Classifier) Classify(summary *domain.ImageSummary, text string) domain.Classification {
	category, keyword := c.MatchText(text)
	result := domain.Classification{Keyword: keyword}

	if category != "" && slices.Contains(c.rules.RejectCategories, category) {
		result.Category = category
		return result
	}

	if summary == nil {
		result.Category = domain.CategoryReject
		return result
	}

	result.SoftMatches = c.SoftMatches(summary)
	result.SkinRatio = summary.SkinRatio

	switch {
	case result.SoftMatches < c.rules.SoftMinMatches:
		result.Category = domain.CategoryReject
	case summary.SkinRatio > c.rules.SkinThreshold && result.SoftMatches < c.rules.SkinOverrideMatches:
		result.Category = domain.CategoryNSFWRisk
	default:
		result.Pass = true
		result.Category = category
		if result.Category == "" {
			result.Category = domain.CategoryFluffy
		}
	}
	return result
}
