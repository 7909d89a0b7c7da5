package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikolay60109002/docrelay/internal/chat"
)

type wireFile struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// DownloadDocument fetches a document to dstPath and returns its
// size. The body lands in dstPath+".temp" first and is renamed into
// place only after the copy completed, so a file is never sent
// half-written.
func (c *Client) DownloadDocument(ctx context.Context, fileID, dstPath string) (int64, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return 0, fmt.Errorf("telegram: missing file_id")
	}
	dstPath = strings.TrimSpace(dstPath)
	if dstPath == "" {
		return 0, fmt.Errorf("telegram: missing destination path")
	}

	var file wireFile
	if err := c.getJSON(ctx, "getFile", url.Values{"file_id": {fileID}}, &file); err != nil {
		return 0, err
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return 0, fmt.Errorf("telegram getFile: missing file_path")
	}

	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(file.FilePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o700); err != nil {
		return 0, err
	}
	tmp := dstPath + ".temp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, err
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		_ = os.Remove(tmp)
		return n, err
	}
	return n, nil
}

// SendDocument uploads one file to a peer and returns the sent
// message (its Date is the correlation anchor for reply waits).
func (c *Client) SendDocument(ctx context.Context, peer string, file chat.OutgoingFile) (chat.Message, error) {
	if strings.TrimSpace(file.Path) == "" {
		return chat.Message{}, fmt.Errorf("telegram: missing file path")
	}
	f, err := os.Open(file.Path)
	if err != nil {
		return chat.Message{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return chat.Message{}, err
	}
	if st.IsDir() {
		return chat.Message{}, fmt.Errorf("telegram: path is a directory: %s", file.Path)
	}

	name := strings.TrimSpace(file.Name)
	if name == "" {
		name = filepath.Base(file.Path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()

		_ = mw.WriteField("peer", peer)
		if caption := strings.TrimSpace(file.Caption); caption != "" {
			_ = mw.WriteField("caption", caption)
		}
		part, err := mw.CreateFormFile("document", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendDocument"), pr)
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.call(req)
	if err != nil {
		return chat.Message{}, err
	}
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return chat.Message{}, fmt.Errorf("telegram sendDocument: decode result: %w", err)
	}
	return toMessage(&wire), nil
}

// SendMediaGroup uploads files as one grouped submission and returns
// the sent messages.
func (c *Client) SendMediaGroup(ctx context.Context, peer string, files []chat.OutgoingFile) ([]chat.Message, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("telegram: empty media group")
	}

	type mediaItem struct {
		Type    string `json:"type"`
		Media   string `json:"media"`
		Caption string `json:"caption,omitempty"`
	}
	media := make([]mediaItem, 0, len(files))
	for i, file := range files {
		media = append(media, mediaItem{
			Type:    "document",
			Media:   fmt.Sprintf("attach://file%d", i),
			Caption: strings.TrimSpace(file.Caption),
		})
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()

		_ = mw.WriteField("peer", peer)
		_ = mw.WriteField("media", string(mediaJSON))
		for i, file := range files {
			name := strings.TrimSpace(file.Name)
			if name == "" {
				name = filepath.Base(file.Path)
			}
			part, err := mw.CreateFormFile(fmt.Sprintf("file%d", i), name)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			f, err := os.Open(file.Path)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f); err != nil {
				_ = f.Close()
				_ = pw.CloseWithError(err)
				return
			}
			_ = f.Close()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMediaGroup"), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.call(req)
	if err != nil {
		return nil, err
	}
	var wire []wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("telegram sendMediaGroup: decode result: %w", err)
	}
	out := make([]chat.Message, 0, len(wire))
	for i := range wire {
		out = append(out, toMessage(&wire[i]))
	}
	return out, nil
}
