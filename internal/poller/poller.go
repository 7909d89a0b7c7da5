// Package poller implements the two history-scanning wait loops: one
// for the checker bot's report reply, one for the editor's follow-up
// document. Both are cooperative single-threaded loops bounded by a
// timeout, observing ctx once per tick.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nikolay60109002/docrelay/internal/chat"
)

// ErrTimeout means the awaited reply never arrived within the bound.
var ErrTimeout = errors.New("poller: timed out waiting for reply")

// History fetches the most recent messages of a conversation,
// newest first.
type History interface {
	ChatHistory(ctx context.Context, peer string, limit int) ([]chat.Message, error)
}

// CheckerWait tunes WaitForCheckerReply. Zero fields get defaults.
type CheckerWait struct {
	Checker      string
	Timeout      time.Duration // default 5m
	Interval     time.Duration // default 5s
	HistoryLimit int           // default 10
	// SkipMarkers identify the bot's "processing" acknowledgments,
	// which are not an answer.
	SkipMarkers []string
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (w CheckerWait) withDefaults() CheckerWait {
	if w.Timeout <= 0 {
		w.Timeout = 5 * time.Minute
	}
	if w.Interval <= 0 {
		w.Interval = 5 * time.Second
	}
	if w.HistoryLimit <= 0 {
		w.HistoryLimit = 10
	}
	if len(w.SkipMarkers) == 0 {
		w.SkipMarkers = []string{"Проверяем файл"}
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.Sleep == nil {
		w.Sleep = sleepCtx
	}
	return w
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitForCheckerReply polls the checker conversation until the bot
// answers with free text or an actionable control. A high-water mark
// over message ids prevents reprocessing; processing acknowledgments
// are skipped. Returns ErrTimeout when the bound elapses.
func WaitForCheckerReply(ctx context.Context, logger *slog.Logger, history History, w CheckerWait) (*chat.Message, error) {
	w = w.withDefaults()
	deadline := w.Now().Add(w.Timeout)
	var highWater int64

	for w.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := history.ChatHistory(ctx, w.Checker, w.HistoryLimit)
		if err != nil {
			logger.Warn("checker_history_error", "error", err.Error())
			if err := w.Sleep(ctx, w.Interval); err != nil {
				return nil, err
			}
			continue
		}
		for i := range msgs {
			m := msgs[i]
			if m.ID <= highWater {
				continue
			}
			highWater = m.ID
			if !strings.EqualFold(m.FromUsername, w.Checker) {
				continue
			}
			if m.Text != "" {
				if containsAnyMarker(m.Text, w.SkipMarkers) {
					continue
				}
				return &m, nil
			}
			if len(m.Buttons) > 0 {
				return &m, nil
			}
		}
		if err := w.Sleep(ctx, w.Interval); err != nil {
			return nil, err
		}
	}
	return nil, ErrTimeout
}

// EditorWait tunes WaitForEditorDocument.
type EditorWait struct {
	Editor string
	// MinDate is the platform timestamp of the outbound forward; only
	// documents strictly after it qualify.
	MinDate      time.Time
	Timeout      time.Duration // default 10h
	Interval     time.Duration // default 5s
	HistoryLimit int           // default 20
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

func (w EditorWait) withDefaults() EditorWait {
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Hour
	}
	if w.Interval <= 0 {
		w.Interval = 5 * time.Second
	}
	if w.HistoryLimit <= 0 {
		w.HistoryLimit = 20
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.Sleep == nil {
		w.Sleep = sleepCtx
	}
	return w
}

// WaitForEditorDocument polls the editor conversation for a document
// from the editor timestamped strictly after MinDate. Returns
// ErrTimeout when the bound elapses.
func WaitForEditorDocument(ctx context.Context, logger *slog.Logger, history History, w EditorWait) (*chat.Message, error) {
	w = w.withDefaults()
	deadline := w.Now().Add(w.Timeout)

	for w.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := history.ChatHistory(ctx, w.Editor, w.HistoryLimit)
		if err != nil {
			logger.Warn("editor_history_error", "error", err.Error())
			if err := w.Sleep(ctx, w.Interval); err != nil {
				return nil, err
			}
			continue
		}
		for i := range msgs {
			m := msgs[i]
			if !m.Date.After(w.MinDate) {
				continue
			}
			if m.Document == nil {
				continue
			}
			if !strings.EqualFold(m.FromUsername, w.Editor) {
				continue
			}
			return &m, nil
		}
		if err := w.Sleep(ctx, w.Interval); err != nil {
			return nil, err
		}
	}
	return nil, ErrTimeout
}

func containsAnyMarker(text string, markers []string) bool {
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
