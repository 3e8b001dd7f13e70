package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// History backends.
const (
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Candidate sources.
const (
	SourceTimeline  = "timeline"
	SourceJetstream = "jetstream"
)

// ClassifierOverrides replace the classifier thresholds from the tables file.
// Zero values leave the table value in place.
type ClassifierOverrides struct {
	TopColors           int
	SoftMinMatches      int
	SkinThreshold       float64
	SkinOverrideMatches int
}

// Config holds all configuration for the bot.
type Config struct {
	LogLevel slog.Level

	// Handle and AppPassword log the bot in. The password may be omitted
	// while SessionFile holds a usable refresh token.
	Handle      string
	AppPassword string
	PDS         string
	SessionFile string

	HistoryBackend string
	HistoryFile    string
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	CursorDir      string
	RepostedFile   string
	Cooldown       time.Duration
	LockTimeout    time.Duration

	CandidateSource string
	TimelineLimit   int
	FirehoseURL     string
	FirehoseWindow  time.Duration
	CDNURL          string

	// PriorityTag lets a reply to someone else's thread through the filter.
	PriorityTag     string
	SkipProbability float64
	DelayMin        time.Duration
	DelayMax        time.Duration

	GoogleAPIKey string
	GoogleModel  string
	TablesFile   string
	Classifier   ClassifierOverrides

	PushgatewayURL string

	MentionsLimit     int
	MaxMentionReplies int
	MentionInterval   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed value is reported, not just the first.
func Load() (*Config, error) {
	var l loader

	cfg := &Config{
		LogLevel:    ParseLogLevel(os.Getenv("LOG_LEVEL")),
		Handle:      strings.TrimSpace(os.Getenv("BLUESKY_HANDLE")),
		AppPassword: os.Getenv("BLUESKY_APP_PASSWORD"),
		PDS:         l.str("BLUESKY_PDS", "https://bsky.social"),
		SessionFile: l.str("BOT_SESSION_FILE", "session.txt"),

		HistoryBackend: strings.ToLower(l.str("BOT_HISTORY_BACKEND", BackendSQLite)),
		HistoryFile:    l.str("BOT_HISTORY_FILE", "fuwamoko_empathy_uris.txt"),
		SQLitePath:     l.str("BOT_SQLITE_PATH", "bot.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      l.str("REDIS_ADDR", "localhost:6379"),
		CursorDir:      l.str("BOT_CURSOR_DIR", "."),
		RepostedFile:   l.str("BOT_REPOSTED_FILE", "reposted_uris.txt"),
		Cooldown:       l.duration("BOT_COOLDOWN", 24*time.Hour),
		LockTimeout:    l.duration("BOT_LOCK_TIMEOUT", 10*time.Second),

		CandidateSource: strings.ToLower(l.str("BOT_CANDIDATE_SOURCE", SourceTimeline)),
		TimelineLimit:   l.integer("BOT_TIMELINE_LIMIT", 20),
		FirehoseURL:     os.Getenv("FEEDGEN_FIREHOSE_URL"),
		FirehoseWindow:  l.duration("BOT_FIREHOSE_WINDOW", time.Minute),
		CDNURL:          l.str("BOT_CDN_URL", "https://cdn.bsky.app"),

		PriorityTag:     os.Getenv("BOT_PRIORITY_TAG"),
		SkipProbability: l.float("BOT_SKIP_PROBABILITY", 0.5),
		DelayMin:        l.duration("BOT_DELAY_MIN", 5*time.Second),
		DelayMax:        l.duration("BOT_DELAY_MAX", 15*time.Second),

		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		GoogleModel:  os.Getenv("GOOGLE_MODEL"),
		TablesFile:   os.Getenv("BOT_TABLES_FILE"),
		Classifier: ClassifierOverrides{
			TopColors:           l.integer("BOT_TOP_COLORS", 0),
			SoftMinMatches:      l.integer("BOT_SOFT_MIN_MATCHES", 0),
			SkinThreshold:       l.float("BOT_SKIN_THRESHOLD", 0),
			SkinOverrideMatches: l.integer("BOT_SKIN_OVERRIDE_MATCHES", 0),
		},

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),

		MentionsLimit:     l.integer("BOT_MENTIONS_LIMIT", 25),
		MaxMentionReplies: l.integer("BOT_MAX_MENTION_REPLIES", 5),
		MentionInterval:   l.duration("BOT_MENTION_INTERVAL", 5*time.Second),
	}

	if cfg.Handle == "" {
		l.fail(errors.New("BLUESKY_HANDLE is required"))
	}
	switch cfg.HistoryBackend {
	case BackendSQLite, BackendFile, BackendRedis:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			l.fail(errors.New("DATABASE_URL is required for the postgres history backend"))
		}
	default:
		l.fail(fmt.Errorf("invalid BOT_HISTORY_BACKEND %q", cfg.HistoryBackend))
	}
	switch cfg.CandidateSource {
	case SourceTimeline, SourceJetstream:
	default:
		l.fail(fmt.Errorf("invalid BOT_CANDIDATE_SOURCE %q", cfg.CandidateSource))
	}
	if cfg.SkipProbability < 0 || cfg.SkipProbability > 1 {
		l.fail(fmt.Errorf("invalid BOT_SKIP_PROBABILITY: %v is outside [0, 1]", cfg.SkipProbability))
	}
	if cfg.DelayMax < cfg.DelayMin {
		l.fail(fmt.Errorf("BOT_DELAY_MAX %s is below BOT_DELAY_MIN %s", cfg.DelayMax, cfg.DelayMin))
	}

	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseLogLevel maps debug, info, warn(ing) and error to a slog level. Anything
// else is info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loader collects parse errors so Load can report them together.
type loader struct {
	errs []error
}

func (l *loader) fail(err error) {
	l.errs = append(l.errs, err)
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.fail(fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return n
}

func (l *loader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		l.fail(fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}
