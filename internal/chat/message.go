// Package chat holds the platform-neutral message model shared by the
// relay controller, the pollers and the gateway client.
package chat

import (
	"strings"
	"time"
)

// Document describes a file attached to a message.
type Document struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64
}

// Button is an inline control attached to a message, typically the
// checker bot's report link.
type Button struct {
	Text string
	URL  string
}

// Message is one chat message as the relay sees it. Date is the
// platform-assigned timestamp; ID is monotonic per conversation.
type Message struct {
	ID           int64
	Date         time.Time
	FromUsername string
	FromIsBot    bool
	Text         string
	Caption      string
	MediaGroupID string
	Document     *Document
	HasPhoto     bool
	Buttons      []Button
}

// TextOrCaption returns the message text, falling back to the caption
// for media messages.
func (m Message) TextOrCaption() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	return m.Caption
}

// ButtonURL returns the target URL of the first button whose label
// contains marker (case-insensitive), or "" if none does.
func (m Message) ButtonURL(marker string) string {
	marker = strings.ToLower(strings.TrimSpace(marker))
	if marker == "" {
		return ""
	}
	for _, b := range m.Buttons {
		if strings.Contains(strings.ToLower(b.Text), marker) {
			return b.URL
		}
	}
	return ""
}

// OutgoingFile is a finalized on-disk artifact ready to be sent.
type OutgoingFile struct {
	Path    string
	Name    string
	Caption string
	Size    int64
}
