package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nikolay60109002/docrelay/internal/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock advances only when the poller sleeps, keeping the loops
// deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type scriptedHistory struct {
	pages [][]chat.Message
	calls int
	peer  string
}

func (h *scriptedHistory) ChatHistory(_ context.Context, peer string, _ int) ([]chat.Message, error) {
	h.peer = peer
	page := h.pages[h.calls]
	if h.calls < len(h.pages)-1 {
		h.calls++
	}
	return page, nil
}

func TestWaitForCheckerReplySkipsProcessingAck(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	history := &scriptedHistory{pages: [][]chat.Message{
		{{ID: 10, FromUsername: "checker_bot", Text: "Проверяем файл..."}},
		{
			{ID: 11, FromUsername: "checker_bot", Buttons: []chat.Button{{Text: "Посмотреть отчет", URL: "https://r.example/apiCorp/1?userId=5"}}},
			{ID: 10, FromUsername: "checker_bot", Text: "Проверяем файл..."},
		},
	}}

	msg, err := WaitForCheckerReply(context.Background(), testLogger(), history, CheckerWait{
		Checker: "checker_bot",
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if err != nil {
		t.Fatalf("WaitForCheckerReply() error = %v", err)
	}
	if msg.ID != 11 {
		t.Fatalf("got message %d, want 11", msg.ID)
	}
	if history.peer != "checker_bot" {
		t.Fatalf("polled peer %q, want checker_bot", history.peer)
	}
}

func TestWaitForCheckerReplyIgnoresOtherSenders(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	history := &scriptedHistory{pages: [][]chat.Message{
		{
			{ID: 21, FromUsername: "someone_else", Text: "готово"},
		},
	}}

	_, err := WaitForCheckerReply(context.Background(), testLogger(), history, CheckerWait{
		Checker: "checker_bot",
		Timeout: 30 * time.Second,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForCheckerReplyHighWaterMark(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	// The ack keeps being the newest message; the high-water mark must
	// stop it from being examined over and over until the real answer
	// arrives with a higher id.
	history := &scriptedHistory{pages: [][]chat.Message{
		{{ID: 30, FromUsername: "checker_bot", Text: "Проверяем файл..."}},
		{{ID: 30, FromUsername: "checker_bot", Text: "Проверяем файл..."}},
		{
			{ID: 31, FromUsername: "checker_bot", Text: "Отчет готов"},
			{ID: 30, FromUsername: "checker_bot", Text: "Проверяем файл..."},
		},
	}}

	msg, err := WaitForCheckerReply(context.Background(), testLogger(), history, CheckerWait{
		Checker: "checker_bot",
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if err != nil {
		t.Fatalf("WaitForCheckerReply() error = %v", err)
	}
	if msg.Text != "Отчет готов" {
		t.Fatalf("got %q", msg.Text)
	}
}

func TestWaitForCheckerReplyTimesOut(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	history := &scriptedHistory{pages: [][]chat.Message{{}}}

	_, err := WaitForCheckerReply(context.Background(), testLogger(), history, CheckerWait{
		Checker: "checker_bot",
		Timeout: time.Minute,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForEditorDocumentRespectsMinDate(t *testing.T) {
	base := time.Unix(1700000000, 0)
	clock := &fakeClock{now: base}
	stale := chat.Message{
		ID: 40, Date: base.Add(-time.Hour), FromUsername: "the_editor",
		Document: &chat.Document{FileID: "old", FileName: "chapter1.docx"},
	}
	atAnchor := chat.Message{
		ID: 41, Date: base, FromUsername: "the_editor",
		Document: &chat.Document{FileID: "same", FileName: "chapter1.docx"},
	}
	fresh := chat.Message{
		ID: 42, Date: base.Add(time.Minute), FromUsername: "the_editor",
		Document: &chat.Document{FileID: "new", FileName: "chapter1.docx"},
	}
	history := &scriptedHistory{pages: [][]chat.Message{
		{stale, atAnchor},
		{fresh, stale, atAnchor},
	}}

	msg, err := WaitForEditorDocument(context.Background(), testLogger(), history, EditorWait{
		Editor:  "the_editor",
		MinDate: base,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if err != nil {
		t.Fatalf("WaitForEditorDocument() error = %v", err)
	}
	if msg.Document.FileID != "new" {
		t.Fatalf("got %q: documents at or before the anchor must never match", msg.Document.FileID)
	}
}

func TestWaitForEditorDocumentIgnoresNonDocuments(t *testing.T) {
	base := time.Unix(1700000000, 0)
	clock := &fakeClock{now: base}
	history := &scriptedHistory{pages: [][]chat.Message{
		{{ID: 50, Date: base.Add(time.Second), FromUsername: "the_editor", Text: "скоро будет"}},
	}}

	_, err := WaitForEditorDocument(context.Background(), testLogger(), history, EditorWait{
		Editor:  "the_editor",
		MinDate: base,
		Timeout: 30 * time.Second,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	history := &scriptedHistory{pages: [][]chat.Message{{}}}

	if _, err := WaitForCheckerReply(ctx, testLogger(), history, CheckerWait{
		Checker: "checker_bot", Now: clock.Now, Sleep: clock.Sleep,
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
