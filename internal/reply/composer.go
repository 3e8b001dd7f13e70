// Package reply writes the bot's reply text: prompt assembly, validation of
// generated output and template fallback.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// DefaultAttempts is how many generations are tried before falling back.
const DefaultAttempts = 3

// Generator produces text for a prompt. *llm.Gemini implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	ErrTooShort     = errors.New("reply too short")
	ErrTooLong      = errors.New("reply too long")
	ErrBanned       = errors.New("reply contains a banned phrase")
	ErrDanger       = errors.New("reply contains a danger word")
	ErrOutOfPersona = errors.New("reply is out of character")
	ErrNoJapanese   = errors.New("reply has no japanese text")
	ErrNoEmoji      = errors.New("reply lacks decorative emoji")
)

// clock times such as "12時" or "30分" read as news copy.
var clockPattern = regexp.MustCompile(`\d+(?:時|分)`)

var (
	blankLines      = regexp.MustCompile(`\n{2,}`)
	repeatedPunct   = regexp.MustCompile(`([。、！？!?])[。、！？!?]+`)
	japaneseText    = regexp.MustCompile(`[ぁ-んァ-ン一-龥ー]`)
	trailingPeriod  = regexp.MustCompile(`([！？笑♡])。$`)
	surroundQuotes  = strings.NewReplacer("「", "", "」", "", "\"", "")
	userLinePattern = regexp.MustCompile(`(?i)^(?:ユーザー|user)\s*[:：]\s*`)
)

// Composer implements domain.ReplyComposer. A nil generator makes it
// template-only.
type Composer struct {
	gen      Generator
	tables   Tables
	attempts int
	logger   *slog.Logger

	banned     *regexp.Regexp
	namePrefix *regexp.Regexp

	// pick returns a random index in [0, n); swapped out in tests.
	pick func(n int) int
}

var _ domain.ReplyComposer = (*Composer)(nil)

// NewComposer validates the tables and builds a Composer.
func NewComposer(gen Generator, tables Tables, logger *slog.Logger) (*Composer, error) {
	for _, lang := range []string{domain.LangJapanese, domain.LangEnglish} {
		if len(tables.Fallbacks[domain.CategoryFluffy][lang]) == 0 {
			return nil, fmt.Errorf("no %s fallback lines for category %s", lang, domain.CategoryFluffy)
		}
	}
	if tables.MinLength <= 0 || tables.MaxLength < tables.MinLength {
		return nil, fmt.Errorf("invalid reply length bounds %d..%d", tables.MinLength, tables.MaxLength)
	}
	if tables.MinEmoji > 0 && len(tables.Emoji) == 0 {
		return nil, errors.New("emoji set is empty but emoji are required")
	}

	c := &Composer{
		gen:      gen,
		tables:   tables,
		attempts: DefaultAttempts,
		logger:   logger,
		pick:     rand.IntN,
	}

	if len(tables.BannedPhrases) > 0 {
		quoted := make([]string, len(tables.BannedPhrases))
		for i, p := range tables.BannedPhrases {
			quoted[i] = regexp.QuoteMeta(p)
		}
		re, err := regexp.Compile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile banned phrases: %w", err)
		}
		c.banned = re
	}
	if tables.Persona.Name != "" {
		c.namePrefix = regexp.MustCompile(`^` + regexp.QuoteMeta(tables.Persona.Name) + `\s*[:：]\s*`)
	}
	return c, nil
}

// TemplateOnly reports whether the composer never calls a generator.
func (c *Composer) TemplateOnly() bool {
	return c.gen == nil
}

// Compose implements domain.ReplyComposer. Each generation that errors or
// fails validation is retried; after the last attempt a template line for
// the request's category and language is returned.
func (c *Composer) Compose(ctx context.Context, req domain.ReplyRequest) string {
	if c.gen == nil {
		return c.Fallback(req.Category, req.Lang)
	}

	prompt := c.Prompt(req)
	c.logMemory(ctx)

	for attempt := 1; attempt <= c.attempts; attempt++ {
		raw, err := c.gen.Generate(ctx, prompt)
		if err != nil {
			c.logger.Warn("reply generation failed", "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		text, err := c.Validate(raw, req.Lang)
		if err != nil {
			c.logger.Info("generated reply rejected", "attempt", attempt, "reason", err, "raw", raw)
			continue
		}
		return text
	}

	text := c.Fallback(req.Category, req.Lang)
	c.logger.Info("using fallback reply", "category", req.Category, "lang", req.Lang)
	return text
}

// Canned returns a fixed reply when text matches a canned pattern.
func (c *Composer) Canned(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, cr := range c.tables.Canned {
		if len(cr.Replies) == 0 {
			continue
		}
		for _, kw := range cr.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				c.logger.Debug("canned reply pattern matched", "pattern", cr.Name, "keyword", kw)
				return cr.Replies[c.pick(len(cr.Replies))], true
			}
		}
	}
	return "", false
}

// Prompt assembles the generation prompt. Input carrying banned vocabulary is
// swapped for a neutral chat line so the model is not steered into news talk.
func (c *Composer) Prompt(req domain.ReplyRequest) string {
	input := strings.TrimSpace(req.Text)
	if c.isBanned(input) {
		c.logger.Debug("input contains banned vocabulary, replacing", "input", input)
		input = c.tables.NeutralInput
	}

	persona := c.tables.Persona
	desc := persona.Description[req.Lang]
	if desc == "" {
		desc = persona.Description[domain.LangJapanese]
	}
	hint := c.tables.Hints[req.Category]
	if hint == "" {
		hint = c.tables.Hints[domain.CategoryFluffy]
	}
	emoji := strings.Join(c.tables.Emoji, " ")

	var b strings.Builder
	b.WriteString(desc)
	b.WriteString("\n")
	if req.Lang == domain.LangEnglish {
		fmt.Fprintf(&b, "Situation: %s\n", hint)
		fmt.Fprintf(&b, "Reply in English, one line, %d to %d characters, with at least %d of these emoji: %s\n",
			c.tables.MinLength, c.tables.MaxLength, c.tables.MinEmoji, emoji)
		fmt.Fprintf(&b, "Post: %s\n", input)
		fmt.Fprintf(&b, "%s:", persona.Name)
	} else {
		fmt.Fprintf(&b, "状況：%s\n", hint)
		fmt.Fprintf(&b, "返信は日本語で一行、%d〜%d文字、次の絵文字を%d個以上使うこと：%s\n",
			c.tables.MinLength, c.tables.MaxLength, c.tables.MinEmoji, emoji)
		fmt.Fprintf(&b, "ユーザー: %s\n", input)
		fmt.Fprintf(&b, "%s:", persona.Name)
	}
	return b.String()
}

// Validate cleans raw model output and checks it is postable: first line
// only, speaker prefixes removed, within length bounds, free of banned and
// danger words, in character, and decorated with enough emoji.
func (c *Composer) Validate(raw, lang string) (string, error) {
	text := c.clean(raw)

	n := utf8.RuneCountInString(text)
	switch {
	case n < c.tables.MinLength:
		return "", ErrTooShort
	case n > c.tables.MaxLength:
		return "", ErrTooLong
	}

	if c.isBanned(text) {
		return "", ErrBanned
	}
	lower := strings.ToLower(text)
	for _, w := range c.tables.DangerWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return "", ErrDanger
		}
	}
	for _, w := range c.tables.Persona.ForbiddenWords {
		if w != "" && strings.Contains(text, w) {
			return "", ErrOutOfPersona
		}
	}
	if lang != domain.LangEnglish && !japaneseText.MatchString(text) {
		return "", ErrNoJapanese
	}
	if c.emojiCount(text) < c.tables.MinEmoji {
		return "", ErrNoEmoji
	}
	return text, nil
}

// Fallback picks a template line for category and lang, falling back to the
// fluffy lines of the same language.
func (c *Composer) Fallback(category domain.Category, lang string) string {
	if lang != domain.LangEnglish {
		lang = domain.LangJapanese
	}
	lines := c.tables.Fallbacks[category][lang]
	if len(lines) == 0 {
		lines = c.tables.Fallbacks[domain.CategoryFluffy][lang]
	}
	return lines[c.pick(len(lines))]
}

func (c *Composer) clean(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = blankLines.ReplaceAllString(text, "\n")

	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			text = line
			break
		}
	}

	if c.namePrefix != nil {
		text = c.namePrefix.ReplaceAllString(text, "")
	}
	text = userLinePattern.ReplaceAllString(text, "")
	text = surroundQuotes.Replace(text)
	text = repeatedPunct.ReplaceAllString(text, "$1")
	text = trailingPeriod.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

func (c *Composer) isBanned(text string) bool {
	if clockPattern.MatchString(text) {
		return true
	}
	return c.banned != nil && c.banned.MatchString(text)
}

func (c *Composer) emojiCount(text string) int {
	n := 0
	for _, e := range c.tables.Emoji {
		if e != "" {
			n += strings.Count(text, e)
		}
	}
	return n
}

func (c *Composer) logMemory(ctx context.Context) {
	if !c.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Debug("read memory stats failed", "error", err)
		return
	}
	c.logger.Debug("memory before generation", "used_percent", vm.UsedPercent, "available_bytes", vm.Available)
}
