package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nikolay60109002/docrelay/internal/chat"
	"github.com/nikolay60109002/docrelay/internal/transport"
)

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":100,"date":1700000000,
				"from":{"id":1,"username":"alice"},
				"document":{"file_id":"F1","file_name":"chapter1.docx","file_size":2048}}},
			{"update_id":8,"message":{"message_id":101,"date":1700000001,
				"from":{"id":2,"username":"bob"},"text":"stop"}}
		]}`))
	}))
	defer srv.Close()

	api := New(srv.Client(), srv.URL, "TOKEN")
	msgs, next, err := api.GetUpdates(context.Background(), 0, 5*time.Second)
	if err != nil {
		t.Fatalf("GetUpdates() error = %v", err)
	}
	if next != 9 {
		t.Fatalf("next offset = %d, want 9", next)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Document == nil || msgs[0].Document.FileName != "chapter1.docx" {
		t.Fatalf("document not decoded: %+v", msgs[0])
	}
	if msgs[0].FromUsername != "alice" {
		t.Fatalf("sender = %q, want alice", msgs[0].FromUsername)
	}
	if !msgs[0].Date.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("date not decoded: %v", msgs[0].Date)
	}
}

func TestChatHistoryDecodesButtons(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getChatHistory") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("peer"); got != "checker_bot" {
			t.Fatalf("peer = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"message_id":55,"date":1700000100,"from":{"id":9,"is_bot":true,"username":"checker_bot"},
			 "reply_markup":{"inline_keyboard":[[{"text":"Посмотреть отчет","url":"https://r.example/apiCorp/1?userId=5"}]]}}
		]}`))
	}))
	defer srv.Close()

	api := New(srv.Client(), srv.URL, "TOKEN")
	msgs, err := api.ChatHistory(context.Background(), "checker_bot", 10)
	if err != nil {
		t.Fatalf("ChatHistory() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if got := msgs[0].ButtonURL("посмотреть отчет"); got != "https://r.example/apiCorp/1?userId=5" {
		t.Fatalf("ButtonURL = %q", got)
	}
}

func TestFloodWaitBecomesRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 17","parameters":{"retry_after":17}}`))
	}))
	defer srv.Close()

	api := New(srv.Client(), srv.URL, "TOKEN")
	_, err := api.SendMessage(context.Background(), "alice", "hello")
	rl, ok := transport.AsRateLimit(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 17*time.Second {
		t.Fatalf("RetryAfter = %v, want 17s", rl.RetryAfter)
	}
}

func TestRequestErrorCarriesDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: peer not found"}`))
	}))
	defer srv.Close()

	api := New(srv.Client(), srv.URL, "TOKEN")
	_, err := api.SendMessage(context.Background(), "ghost", "hello")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.ErrorCode != 400 || !strings.Contains(reqErr.Description, "peer not found") {
		t.Fatalf("unexpected error detail: %+v", reqErr)
	}
}

func TestSendDocumentMultipart(t *testing.T) {
	var gotPeer, gotCaption, gotFileName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendDocument") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotPeer = r.FormValue("peer")
		gotCaption = r.FormValue("caption")
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotFileName = header.Filename
		buf := make([]byte, header.Size)
		n, _ := file.Read(buf)
		gotBody = string(buf[:n])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":900,"date":1700000500}}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "chapter1.docx")
	if err := os.WriteFile(path, []byte("doc-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	api := New(srv.Client(), srv.URL, "TOKEN")
	sent, err := api.SendDocument(context.Background(), "the_editor", chat.OutgoingFile{
		Path:    path,
		Name:    "chapter1.docx",
		Caption: "на проверку",
		Size:    9,
	})
	if err != nil {
		t.Fatalf("SendDocument() error = %v", err)
	}
	if gotPeer != "the_editor" || gotCaption != "на проверку" {
		t.Fatalf("peer/caption = %q/%q", gotPeer, gotCaption)
	}
	if gotFileName != "chapter1.docx" || gotBody != "doc-bytes" {
		t.Fatalf("file part = %q/%q", gotFileName, gotBody)
	}
	if sent.ID != 900 || !sent.Date.Equal(time.Unix(1700000500, 0).UTC()) {
		t.Fatalf("sent message not decoded: %+v", sent)
	}
}

func TestSendMediaGroupMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMediaGroup") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		var media []map[string]any
		if err := json.Unmarshal([]byte(r.FormValue("media")), &media); err != nil {
			t.Fatalf("media field: %v", err)
		}
		if len(media) != 2 {
			t.Fatalf("media entries = %d, want 2", len(media))
		}
		if media[0]["media"] != "attach://file0" || media[1]["media"] != "attach://file1" {
			t.Fatalf("attach references wrong: %v", media)
		}
		for _, field := range []string{"file0", "file1"} {
			if _, _, err := r.FormFile(field); err != nil {
				t.Fatalf("missing part %s: %v", field, err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"message_id":1},{"message_id":2}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.docx"), filepath.Join(dir, "b.docx")}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	api := New(srv.Client(), srv.URL, "TOKEN")
	sent, err := api.SendMediaGroup(context.Background(), "the_editor", []chat.OutgoingFile{
		{Path: paths[0], Name: "a.docx", Size: 1},
		{Path: paths[1], Name: "b.docx", Size: 1},
	})
	if err != nil {
		t.Fatalf("SendMediaGroup() error = %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
}

func TestDownloadDocumentFinalizesViaRename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"F1","file_path":"documents/chapter1.docx"}}`))
		case strings.Contains(r.URL.Path, "/file/bot"):
			_, _ = w.Write([]byte("downloaded-bytes"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "batch", "chapter1.docx")
	api := New(srv.Client(), srv.URL, "TOKEN")
	n, err := api.DownloadDocument(context.Background(), "F1", dst)
	if err != nil {
		t.Fatalf("DownloadDocument() error = %v", err)
	}
	if n != int64(len("downloaded-bytes")) {
		t.Fatalf("size = %d", n)
	}
	body, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("finalized file missing: %v", err)
	}
	if string(body) != "downloaded-bytes" {
		t.Fatalf("body = %q", body)
	}
	if _, err := os.Stat(dst + ".temp"); !os.IsNotExist(err) {
		t.Fatalf(".temp file must be renamed away")
	}
}

func TestGetMeCachesUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"relay_account"}}`))
	}))
	defer srv.Close()

	api := New(srv.Client(), srv.URL, "TOKEN")
	name, err := api.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe() error = %v", err)
	}
	if name != "relay_account" || api.Username() != "relay_account" {
		t.Fatalf("username = %q / %q", name, api.Username())
	}
}
