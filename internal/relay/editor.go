package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nikolay60109002/docrelay/internal/chat"
	"github.com/nikolay60109002/docrelay/internal/namekey"
	"github.com/nikolay60109002/docrelay/internal/pending"
	"github.com/nikolay60109002/docrelay/internal/transport"
)

// HandleEditorMessage processes one inbound update from the editor
// side. Only messages from the configured editor count.
func (s *Session) HandleEditorMessage(ctx context.Context, m chat.Message) error {
	if !strings.EqualFold(m.FromUsername, s.cfg.Editor) {
		return nil
	}
	for _, r := range s.editorRules() {
		if !r.match(m) {
			continue
		}
		s.logger.Info("editor_event", "rule", r.name)
		return r.handle(ctx, m)
	}
	return nil
}

func (s *Session) editorRules() []rule {
	return []rule{
		{
			name: "reply_batch",
			match: func(m chat.Message) bool {
				return m.Document != nil && m.MediaGroupID != ""
			},
			handle: s.handleEditorBatch,
		},
		{
			name: "reply_document",
			match: func(m chat.Message) bool {
				return m.Document != nil
			},
			handle: s.handleEditorReply,
		},
		{
			name:   "error_notice",
			match:  s.isErrorNotice,
			handle: s.handleEditorErrorNotice,
		},
	}
}

// isErrorNotice recognizes an out-of-band failure report: plain text
// or a screenshot caption carrying the marker phrase.
func (s *Session) isErrorNotice(m chat.Message) bool {
	if m.Document != nil {
		return false
	}
	text := m.TextOrCaption()
	if strings.TrimSpace(text) == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.ErrorNoticeMarker))
}

func (s *Session) handleEditorReply(ctx context.Context, m chat.Message) error {
	return s.deliverEditorDocument(ctx, m)
}

// deliverEditorDocument routes one reviewed document back to the
// author recorded for its normalized filename. A correlation miss is
// logged and otherwise ignored: the editor may send files that never
// passed through the relay.
func (s *Session) deliverEditorDocument(ctx context.Context, m chat.Message) error {
	name := filepath.Base(m.Document.FileName)
	if !s.cfg.Rules.AcceptsReply(name) {
		s.logger.Debug("reply_extension_rejected", "file", name)
		return nil
	}
	key := namekey.Normalize(name)
	author, err := s.store.Get(key)
	if errors.Is(err, pending.ErrNotFound) {
		s.logger.Warn("reply_unmatched", "file", name, "key", key)
		return nil
	}
	if err != nil {
		return err
	}

	dir := filepath.Join(s.cfg.DownloadDir, uuid.NewString())
	defer s.cleanupLater(dir)

	dst := filepath.Join(dir, name)
	size, err := s.editor.DownloadDocument(ctx, m.Document.FileID, dst)
	if err != nil {
		return fmt.Errorf("relay: download reply %s: %w", name, err)
	}

	item := transport.Item{
		Name: name,
		Size: size,
		Send: func(ctx context.Context) error {
			_, err := s.authors.SendDocument(ctx, author, chat.OutgoingFile{Path: dst, Name: name, Size: size})
			return err
		},
	}
	if err := transport.SendWithRetry(ctx, s.logger, item, s.sendOptions()); err != nil {
		return err
	}

	if err := s.store.Delete(author, key); err != nil {
		s.logger.Warn("store_delete_error", "key", key, "error", err.Error())
	}
	s.logger.Info("reply_delivered", "file", name, "key", key, "author", author)

	if n, err := s.store.Count(); err == nil && n == 0 {
		s.notifyEditor(ctx, "Все файлы проверены и возвращены авторам.")
	}
	return nil
}

// handleEditorBatch expands a grouped editor reply once, groups the
// documents by their recorded authors and fans the deliveries out
// under the concurrency cap.
func (s *Session) handleEditorBatch(ctx context.Context, m chat.Message) error {
	if !s.seen.FirstSight("editor:" + m.MediaGroupID) {
		return nil
	}
	docs, err := s.editor.MediaGroup(ctx, s.cfg.Editor, m.ID)
	if err != nil {
		s.logger.Warn("media_group_expand_error", "error", err.Error())
		docs = []chat.Message{m}
	}

	dir := filepath.Join(s.cfg.DownloadDir, uuid.NewString())
	defer s.cleanupLater(dir)

	type delivery struct {
		author string
		keys   []string
		files  []chat.OutgoingFile
	}
	byAuthor := make(map[string]*delivery)
	for _, d := range docs {
		if d.Document == nil {
			continue
		}
		name := filepath.Base(d.Document.FileName)
		if !s.cfg.Rules.AcceptsReply(name) {
			continue
		}
		key := namekey.Normalize(name)
		author, err := s.store.Get(key)
		if errors.Is(err, pending.ErrNotFound) {
			s.logger.Warn("reply_unmatched", "file", name, "key", key)
			continue
		}
		if err != nil {
			return err
		}
		dst := filepath.Join(dir, name)
		size, err := s.editor.DownloadDocument(ctx, d.Document.FileID, dst)
		if err != nil {
			s.logger.Warn("download_error", "file", name, "error", err.Error())
			continue
		}
		dv := byAuthor[author]
		if dv == nil {
			dv = &delivery{author: author}
			byAuthor[author] = dv
		}
		dv.keys = append(dv.keys, key)
		dv.files = append(dv.files, chat.OutgoingFile{Path: dst, Name: name, Size: size})
	}
	if len(byAuthor) == 0 {
		return nil
	}

	var items []transport.Item
	for _, dv := range byAuthor {
		dv := dv
		var total int64
		for _, f := range dv.files {
			total += f.Size
		}
		send := func(ctx context.Context) error {
			if len(dv.files) == 1 {
				_, err := s.authors.SendDocument(ctx, dv.author, dv.files[0])
				return err
			}
			_, err := s.authors.SendMediaGroup(ctx, dv.author, dv.files)
			return err
		}
		items = append(items, transport.Item{Name: dv.author, Size: total, Send: send})
	}

	res := transport.SendBatch(ctx, s.logger, items, s.cfg.MaxConcurrentSends, s.sendOptions())

	failed := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Name] = true
	}
	for _, dv := range byAuthor {
		if failed[dv.author] {
			continue
		}
		for _, key := range dv.keys {
			if err := s.store.Delete(dv.author, key); err != nil {
				s.logger.Warn("store_delete_error", "key", key, "error", err.Error())
			}
		}
		s.logger.Info("reply_batch_delivered", "author", dv.author, "files", len(dv.files))
	}
	if n, err := s.store.Count(); err == nil && n == 0 {
		s.notifyEditor(ctx, "Все файлы проверены и возвращены авторам.")
	}
	return nil
}

// handleEditorErrorNotice matches an out-of-band failure notice
// against every live correlation key and tells the affected authors
// their file is stuck.
func (s *Session) handleEditorErrorNotice(ctx context.Context, m chat.Message) error {
	records, err := s.store.All()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(records))
	authorByKey := make(map[string]string, len(records))
	for _, r := range records {
		keys = append(keys, r.Filename)
		authorByKey[r.Filename] = r.Author
	}

	matched := namekey.MatchBySubstring(keys, m.TextOrCaption())
	if len(matched) == 0 {
		s.logger.Warn("error_notice_unmatched", "pending", len(records))
		return nil
	}
	for _, key := range matched {
		author := authorByKey[key]
		s.notifyAuthor(ctx, author, fmt.Sprintf("Файл «%s» не проверяется, отправьте его заново.", key))
		if err := s.store.Delete(author, key); err != nil {
			s.logger.Warn("store_delete_error", "key", key, "error", err.Error())
		}
		s.logger.Info("error_notice_relayed", "key", key, "author", author)
	}
	return nil
}
