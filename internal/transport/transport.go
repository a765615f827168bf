// Package transport defines the abstract messaging transport the
// forwarding pipeline runs against. The mtproto package provides the real
// implementation; tests substitute in-memory fakes.
package transport

import (
	"context"
	"time"
)

// Media describes an attachment carried by a message.
type Media struct {
	MIMEType string
	Size     int64
}

// Message is one chat message as seen by the pipeline.
type Message struct {
	ID   int
	Date time.Time
	Text string
	// EntityURLs are hyperlinks embedded via text entities, in message
	// order. Redirect-bot links surface here.
	EntityURLs []string
	Media      *Media
}

// MediaRef points at the original message whose attachment should be
// copied when sending; the transport re-sends it by reference instead of
// re-uploading the bytes.
type MediaRef struct {
	Chat      string
	MessageID int
}

// SentMessage identifies a message the transport has just sent.
type SentMessage struct {
	ID int
}

// Transport is the messaging collaborator consumed by the pipeline.
// Implementations are expected to be safe for concurrent use.
type Transport interface {
	// Resolve checks that the chat exists and is reachable.
	Resolve(ctx context.Context, chat string) error
	// Join makes the account a member of the chat; best-effort.
	Join(ctx context.Context, chat string) error
	// History returns up to limit most recent messages, newest first.
	History(ctx context.Context, chat string, limit int) ([]Message, error)
	// Replies returns up to limit most recent replies to a message,
	// newest first.
	Replies(ctx context.Context, chat string, messageID, limit int) ([]Message, error)
	// Send posts text to the chat, optionally copying media from ref.
	Send(ctx context.Context, chat, text string, ref *MediaRef) (SentMessage, error)
	// Pin pins a message in the chat.
	Pin(ctx context.Context, chat string, messageID int) error
	// Delete removes up to 100 messages per call.
	Delete(ctx context.Context, chat string, messageIDs []int) error
	// DownloadMedia fetches the raw bytes of a message attachment. Only
	// redirect-bot replies are ever downloaded.
	DownloadMedia(ctx context.Context, chat string, messageID int) ([]byte, error)
}

// MaxDeleteBatch is the transport-imposed ceiling on ids per Delete call.
const MaxDeleteBatch = 100
