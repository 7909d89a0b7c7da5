// Package relay is the controller tying the two chat sessions
// together: author submissions are classified and forwarded to the
// checker bot or the human editor, and editor replies are reunited
// with their authors through the persistent correlation store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikolay60109002/docrelay/internal/chat"
	"github.com/nikolay60109002/docrelay/internal/classify"
	"github.com/nikolay60109002/docrelay/internal/dedup"
	"github.com/nikolay60109002/docrelay/internal/namekey"
	"github.com/nikolay60109002/docrelay/internal/pending"
	"github.com/nikolay60109002/docrelay/internal/poller"
	"github.com/nikolay60109002/docrelay/internal/report"
	"github.com/nikolay60109002/docrelay/internal/transport"
)

// Gateway is the platform surface a session needs from one chat
// account. *telegram.Client satisfies it.
type Gateway interface {
	SendMessage(ctx context.Context, peer, text string) (chat.Message, error)
	SendDocument(ctx context.Context, peer string, file chat.OutgoingFile) (chat.Message, error)
	SendMediaGroup(ctx context.Context, peer string, files []chat.OutgoingFile) ([]chat.Message, error)
	DownloadDocument(ctx context.Context, fileID, dstPath string) (int64, error)
	MediaGroup(ctx context.Context, peer string, messageID int64) ([]chat.Message, error)
	ChatHistory(ctx context.Context, peer string, limit int) ([]chat.Message, error)
}

// Session is one monitoring run. It owns the dedup state and spawned
// checker flows; the correlation store is shared and outlives it.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	store   *pending.Store
	seen    *dedup.Set
	authors Gateway
	editor  Gateway
	reports report.Resolver

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewSession(cfg Config, logger *slog.Logger, store *pending.Store, authors, editor Gateway, reports report.Resolver) *Session {
	return &Session{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		store:   store,
		seen:    dedup.New(),
		authors: authors,
		editor:  editor,
		reports: reports,
		done:    make(chan struct{}),
	}
}

// Done is closed when the session has been stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop clears the correlation store, forgets seen batches and marks
// the session finished. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if err := s.store.Clear(); err != nil {
			s.logger.Warn("store_clear_error", "error", err.Error())
		}
		s.seen.Reset()
		close(s.done)
		s.logger.Info("session_stopped")
	})
}

// Wait blocks until spawned checker flows and cleanup timers finish.
func (s *Session) Wait() { s.wg.Wait() }

type rule struct {
	name   string
	match  func(m chat.Message) bool
	handle func(ctx context.Context, m chat.Message) error
}

// HandleAuthorMessage processes one inbound update from the author
// side. First matching rule wins; unmatched messages are ignored.
func (s *Session) HandleAuthorMessage(ctx context.Context, m chat.Message) error {
	if m.FromIsBot || !s.fromAllowedAuthor(m) {
		return nil
	}
	for _, r := range s.authorRules() {
		if !r.match(m) {
			continue
		}
		s.logger.Info("author_event", "rule", r.name, "from", m.FromUsername)
		return r.handle(ctx, m)
	}
	return nil
}

func (s *Session) authorRules() []rule {
	return []rule{
		{
			name: "stop",
			match: func(m chat.Message) bool {
				return strings.EqualFold(strings.TrimSpace(m.Text), s.cfg.StopWord)
			},
			handle: s.handleStop,
		},
		{
			name: "document_batch",
			match: func(m chat.Message) bool {
				return m.Document != nil && m.MediaGroupID != ""
			},
			handle: s.handleAuthorBatch,
		},
		{
			name: "document",
			match: func(m chat.Message) bool {
				return m.Document != nil
			},
			handle: s.handleAuthorDocument,
		},
	}
}

func (s *Session) fromAllowedAuthor(m chat.Message) bool {
	if len(s.cfg.Authors) == 0 {
		return m.FromUsername != ""
	}
	for _, a := range s.cfg.Authors {
		if strings.EqualFold(a, m.FromUsername) {
			return true
		}
	}
	return false
}

func (s *Session) handleStop(ctx context.Context, m chat.Message) error {
	s.logger.Info("stop_requested", "from", m.FromUsername)
	s.Stop()
	return nil
}

func (s *Session) handleAuthorDocument(ctx context.Context, m chat.Message) error {
	route := s.cfg.Rules.Classify(m.Document.FileName, m.Caption)
	s.logger.Info("document_classified",
		"file", m.Document.FileName, "route", route.String(), "from", m.FromUsername)

	switch route {
	case classify.RouteIgnore:
		return nil
	case classify.RouteDrop:
		return nil
	case classify.RouteChecker:
		s.spawnCheckerFlow(ctx, m)
		return nil
	default:
		return s.relayToEditor(ctx, m.FromUsername, []chat.Message{m})
	}
}

// handleAuthorBatch expands a grouped submission once. The platform
// notifies once per file in the group, so only the first-sight winner
// proceeds.
func (s *Session) handleAuthorBatch(ctx context.Context, m chat.Message) error {
	if !s.seen.FirstSight("author:" + m.MediaGroupID) {
		return nil
	}
	docs, err := s.authors.MediaGroup(ctx, m.FromUsername, m.ID)
	if err != nil {
		s.logger.Warn("media_group_expand_error", "error", err.Error())
		docs = []chat.Message{m}
	}

	var toEditor []chat.Message
	for _, d := range docs {
		if d.Document == nil {
			continue
		}
		route := s.cfg.Rules.Classify(d.Document.FileName, d.Caption)
		s.logger.Info("document_classified",
			"file", d.Document.FileName, "route", route.String(), "from", m.FromUsername)
		switch route {
		case classify.RouteChecker:
			s.spawnCheckerFlow(ctx, d)
		case classify.RouteEditor:
			toEditor = append(toEditor, d)
		}
	}
	if len(toEditor) == 0 {
		return nil
	}
	return s.relayToEditor(ctx, m.FromUsername, toEditor)
}

// relayToEditor downloads the author's documents into a fresh batch
// directory, forwards them to the editor and records the correlation
// for each file only after the send succeeded.
func (s *Session) relayToEditor(ctx context.Context, author string, docs []chat.Message) error {
	dir := filepath.Join(s.cfg.DownloadDir, uuid.NewString())
	defer s.cleanupLater(dir)

	files := s.downloadAll(ctx, s.authors, author, docs, dir)
	if len(files) == 0 {
		return fmt.Errorf("relay: no downloadable files from %s", author)
	}

	var sentAt time.Time
	item := s.editorSendItem(files, "", &sentAt)
	if err := transport.SendWithRetry(ctx, s.logger, item, s.sendOptions()); err != nil {
		s.notifySendFailure(ctx, author, item.Name, err)
		return err
	}

	for _, f := range files {
		key := namekey.Normalize(f.Name)
		if err := s.store.Put(key, author); err != nil {
			s.logger.Warn("store_put_error", "key", key, "error", err.Error())
			continue
		}
		s.logger.Info("forwarded_to_editor", "file", f.Name, "key", key, "author", author)
	}

	if s.cfg.AwaitEditorReply {
		s.awaitEditorReturn(ctx, sentAt)
	}
	return nil
}

// editorSendItem wraps the forward as one retryable unit: a single
// document or the whole media group.
func (s *Session) editorSendItem(files []chat.OutgoingFile, caption string, sentAt *time.Time) transport.Item {
	if len(files) == 1 {
		f := files[0]
		f.Caption = caption
		return transport.Item{
			Name: f.Name,
			Size: f.Size,
			Send: func(ctx context.Context) error {
				sent, err := s.editor.SendDocument(ctx, s.cfg.Editor, f)
				if err == nil && sentAt != nil {
					*sentAt = sent.Date
				}
				return err
			},
		}
	}
	var total int64
	names := make([]string, 0, len(files))
	for _, f := range files {
		total += f.Size
		names = append(names, f.Name)
	}
	return transport.Item{
		Name: strings.Join(names, ","),
		Size: total,
		Send: func(ctx context.Context) error {
			sent, err := s.editor.SendMediaGroup(ctx, s.cfg.Editor, files)
			if err == nil && sentAt != nil && len(sent) > 0 {
				*sentAt = sent[len(sent)-1].Date
			}
			return err
		},
	}
}

func (s *Session) spawnCheckerFlow(ctx context.Context, m chat.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runCheckerFlow(ctx, m); err != nil {
			s.logger.Warn("checker_flow_error", "file", m.Document.FileName, "error", err.Error())
		}
	}()
}

// runCheckerFlow drives one document through the checker bot: submit,
// wait for the verdict, then either hand the author the raw link, or
// resolve the report artifact and forward it to the editor.
func (s *Session) runCheckerFlow(ctx context.Context, m chat.Message) error {
	author := m.FromUsername
	name := m.Document.FileName
	dir := filepath.Join(s.cfg.DownloadDir, uuid.NewString())
	defer s.cleanupLater(dir)

	dst := filepath.Join(dir, name)
	size, err := s.authors.DownloadDocument(ctx, m.Document.FileID, dst)
	if err != nil {
		s.notifyAuthor(ctx, author, fmt.Sprintf("Файл «%s» не удалось загрузить.", name))
		return err
	}

	submit := transport.Item{
		Name: name,
		Size: size,
		Send: func(ctx context.Context) error {
			_, err := s.authors.SendDocument(ctx, s.cfg.CheckerBot, chat.OutgoingFile{Path: dst, Name: name, Size: size})
			return err
		},
	}
	if err := transport.SendWithRetry(ctx, s.logger, submit, s.sendOptions()); err != nil {
		s.notifySendFailure(ctx, author, name, err)
		return err
	}

	reply, err := poller.WaitForCheckerReply(ctx, s.logger, s.authors, poller.CheckerWait{
		Checker:      s.cfg.CheckerBot,
		Timeout:      s.cfg.CheckerTimeout,
		Interval:     s.cfg.PollInterval,
		HistoryLimit: s.cfg.CheckerHistoryLimit,
		SkipMarkers:  s.cfg.ProcessingAckMarkers,
		Now:          s.cfg.Now,
		Sleep:        s.cfg.Sleep,
	})
	if errors.Is(err, poller.ErrTimeout) {
		s.notifyAuthor(ctx, author, fmt.Sprintf("Документ «%s» не грузится.", name))
		return nil
	}
	if err != nil {
		return err
	}

	reportURL := reply.ButtonURL(s.cfg.ReportButtonMarker)
	if reportURL == "" {
		// The bot answered in prose; pass the verdict through as is.
		s.notifyAuthor(ctx, author, reply.TextOrCaption())
		return nil
	}

	if s.cfg.Rules.LinkOnly(m.Caption) {
		s.notifyAuthor(ctx, author, reportURL)
		s.logger.Info("report_link_delivered", "file", name, "author", author)
		return nil
	}

	artifact, err := s.reports.Resolve(ctx, reportURL, name)
	if err != nil {
		s.logger.Warn("report_resolve_error", "file", name, "error", err.Error())
		s.notifyAuthor(ctx, author, fmt.Sprintf("Документ «%s» не грузится.", name))
		return err
	}
	st, err := os.Stat(artifact)
	if err != nil {
		return err
	}

	caption := ""
	if s.cfg.Rules.RewriteReport(name, m.Caption) {
		caption = reportURL
	}
	var sentAt time.Time
	item := s.editorSendItem([]chat.OutgoingFile{{Path: artifact, Name: name, Size: st.Size()}}, caption, &sentAt)
	if err := transport.SendWithRetry(ctx, s.logger, item, s.sendOptions()); err != nil {
		s.notifySendFailure(ctx, author, name, err)
		return err
	}

	key := namekey.Normalize(name)
	if err := s.store.Put(key, author); err != nil {
		return err
	}
	s.logger.Info("report_forwarded", "file", name, "key", key, "author", author)

	if s.cfg.AwaitEditorReply {
		s.awaitEditorReturn(ctx, sentAt)
	}
	return nil
}

// awaitEditorReturn blocks on the editor's follow-up document sent
// strictly after minDate and delivers it through the normal reply
// path.
func (s *Session) awaitEditorReturn(ctx context.Context, minDate time.Time) {
	reply, err := poller.WaitForEditorDocument(ctx, s.logger, s.editor, poller.EditorWait{
		Editor:       s.cfg.Editor,
		MinDate:      minDate,
		Timeout:      s.cfg.EditorReplyTimeout,
		Interval:     s.cfg.PollInterval,
		HistoryLimit: s.cfg.EditorHistoryLimit,
		Now:          s.cfg.Now,
		Sleep:        s.cfg.Sleep,
	})
	if err != nil {
		s.logger.Warn("editor_reply_wait_error", "error", err.Error())
		return
	}
	if err := s.deliverEditorDocument(ctx, *reply); err != nil {
		s.logger.Warn("editor_reply_deliver_error", "error", err.Error())
	}
}

// downloadAll fetches every document into dir, notifying the author
// about individual failures and keeping the rest of the batch going.
func (s *Session) downloadAll(ctx context.Context, gw Gateway, author string, docs []chat.Message, dir string) []chat.OutgoingFile {
	var files []chat.OutgoingFile
	for _, d := range docs {
		if d.Document == nil {
			continue
		}
		name := filepath.Base(d.Document.FileName)
		dst := filepath.Join(dir, name)
		size, err := gw.DownloadDocument(ctx, d.Document.FileID, dst)
		if err != nil {
			s.logger.Warn("download_error", "file", name, "error", err.Error())
			if author != "" {
				s.notifyAuthor(ctx, author, fmt.Sprintf("Файл «%s» не удалось загрузить.", name))
			}
			continue
		}
		files = append(files, chat.OutgoingFile{Path: dst, Name: name, Size: size})
	}
	return files
}

// cleanupLater removes a batch directory shortly after the send, so a
// still-streaming upload never loses its backing file.
func (s *Session) cleanupLater(dir string) {
	if dir == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sleep := s.cfg.Sleep
		if sleep == nil {
			sleep = func(ctx context.Context, d time.Duration) error {
				t := time.NewTimer(d)
				defer t.Stop()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-t.C:
					return nil
				}
			}
		}
		_ = sleep(context.Background(), s.cfg.CleanupDelay)
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("cleanup_error", "dir", dir, "error", err.Error())
		}
	}()
}

func (s *Session) sendOptions() transport.Options {
	return transport.Options{
		MaxAttempts:  s.cfg.MaxAttempts,
		InitialDelay: s.cfg.InitialRetryDelay,
		Limiter:      s.cfg.Limiter,
		Sleep:        s.cfg.Sleep,
	}
}

func (s *Session) notifyAuthor(ctx context.Context, author, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := s.authors.SendMessage(ctx, author, text); err != nil {
		s.logger.Warn("notify_author_error", "author", author, "error", err.Error())
	}
}

func (s *Session) notifyEditor(ctx context.Context, text string) {
	if _, err := s.editor.SendMessage(ctx, s.cfg.Editor, text); err != nil {
		s.logger.Warn("notify_editor_error", "error", err.Error())
	}
}

func (s *Session) notifySendFailure(ctx context.Context, author, name string, err error) {
	var text string
	switch {
	case errors.Is(err, transport.ErrEmptyPayload):
		text = fmt.Sprintf("Файл «%s» пустой и не был отправлен.", name)
	case errors.Is(err, transport.ErrTooLarge):
		text = fmt.Sprintf("Файл «%s» слишком большой для отправки.", name)
	default:
		text = fmt.Sprintf("Не удалось отправить файл «%s».", name)
	}
	s.notifyAuthor(ctx, author, text)
}
