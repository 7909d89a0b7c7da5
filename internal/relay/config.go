package relay

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/nikolay60109002/docrelay/internal/classify"
)

// Config tunes a relay session. Zero fields get defaults matching the
// historic deployment.
type Config struct {
	// Authors whitelists sender usernames on the author side. Empty
	// means any non-bot sender is accepted.
	Authors []string
	// Editor is the username of the human reviewer.
	Editor string
	// CheckerBot is the username of the automated plagiarism checker.
	CheckerBot string

	Rules classify.Rules

	// DownloadDir receives per-batch working directories.
	DownloadDir string

	// StopWord shuts the session down when an author sends it.
	StopWord string
	// ReportButtonMarker identifies the checker's report-link button by
	// a case-insensitive label fragment.
	ReportButtonMarker string
	// ProcessingAckMarkers identify the checker's interim "working on
	// it" messages, which are not an answer.
	ProcessingAckMarkers []string
	// ErrorNoticeMarker flags an editor-side text or photo caption as
	// an out-of-band failure notice.
	ErrorNoticeMarker string

	MaxConcurrentSends int
	MaxAttempts        int
	InitialRetryDelay  time.Duration

	CheckerTimeout      time.Duration
	EditorReplyTimeout  time.Duration
	PollInterval        time.Duration
	CheckerHistoryLimit int
	EditorHistoryLimit  int

	// CleanupDelay is how long a batch directory outlives its send.
	CleanupDelay time.Duration

	// AwaitEditorReply makes a forward block on the editor's follow-up
	// document instead of relying on the update stream.
	AwaitEditorReply bool

	// Limiter paces outbound sends client-side.
	Limiter *rate.Limiter

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if len(c.Rules.Extensions) == 0 {
		c.Rules = classify.DefaultRules()
	}
	if c.StopWord == "" {
		c.StopWord = "stop"
	}
	if c.ReportButtonMarker == "" {
		c.ReportButtonMarker = "посмотреть отчет"
	}
	if len(c.ProcessingAckMarkers) == 0 {
		c.ProcessingAckMarkers = []string{"Проверяем файл"}
	}
	if c.ErrorNoticeMarker == "" {
		c.ErrorNoticeMarker = "не проверяется"
	}
	if c.MaxConcurrentSends <= 0 {
		c.MaxConcurrentSends = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 5 * time.Second
	}
	if c.CheckerTimeout <= 0 {
		c.CheckerTimeout = 5 * time.Minute
	}
	if c.EditorReplyTimeout <= 0 {
		c.EditorReplyTimeout = 10 * time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.CheckerHistoryLimit <= 0 {
		c.CheckerHistoryLimit = 10
	}
	if c.EditorHistoryLimit <= 0 {
		c.EditorHistoryLimit = 20
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
