package mtproto

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

// Transport adapts the raw MTProto API to the narrow surface the pollers
// and the dispatcher need. Resolved peers are cached per run; Telegram
// rate-limits contacts.resolveUsername hard.
type Transport struct {
	api *tg.Client
	log *slog.Logger

	mu    sync.Mutex
	peers map[string]tg.InputPeerClass
}

func NewTransport(td *telegram.Client, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		api:   tg.NewClient(td),
		log:   log.With(slog.String("component", "forwarder.transport")),
		peers: make(map[string]tg.InputPeerClass),
	}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Resolve(ctx context.Context, chat string) error {
	_, err := t.resolvePeer(ctx, chat)
	return err
}

func (t *Transport) Join(ctx context.Context, chat string) error {
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return err
	}
	ch, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return fmt.Errorf("join %s: not a channel", chat)
	}
	_, err = t.api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ChannelID,
		AccessHash: ch.AccessHash,
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", chat, err)
	}
	return nil
}

func (t *Transport) History(ctx context.Context, chat string, limit int) ([]transport.Message, error) {
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return nil, err
	}
	res, err := t.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", chat, err)
	}
	return convertMessages(extractMessages(res)), nil
}

func (t *Transport) Replies(ctx context.Context, chat string, messageID, limit int) ([]transport.Message, error) {
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return nil, err
	}
	res, err := t.api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
		Peer:  peer,
		MsgID: messageID,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("replies %s/%d: %w", chat, messageID, err)
	}
	return convertMessages(extractMessages(res)), nil
}

func (t *Transport) Send(ctx context.Context, chat, text string, ref *transport.MediaRef) (transport.SentMessage, error) {
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return transport.SentMessage{}, err
	}

	var updates tg.UpdatesClass
	if ref == nil {
		updates, err = t.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  text,
			RandomID: rand.Int64(),
		})
	} else {
		var media tg.InputMediaClass
		media, err = t.lookupMedia(ctx, *ref)
		if err != nil {
			return transport.SentMessage{}, err
		}
		updates, err = t.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     peer,
			Media:    media,
			Message:  text,
			RandomID: rand.Int64(),
		})
	}
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("send %s: %w", chat, err)
	}
	return transport.SentMessage{ID: sentMessageID(updates)}, nil
}

func (t *Transport) Pin(ctx context.Context, chat string, messageID int) error {
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return err
	}
	_, err = t.api.MessagesUpdatePinnedMessage(ctx, &tg.MessagesUpdatePinnedMessageRequest{
		Peer: peer,
		ID:   messageID,
	})
	if err != nil {
		return fmt.Errorf("pin %s/%d: %w", chat, messageID, err)
	}
	return nil
}

func (t *Transport) Delete(ctx context.Context, chat string, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > transport.MaxDeleteBatch {
		return fmt.Errorf("delete %s: batch of %d exceeds %d", chat, len(messageIDs), transport.MaxDeleteBatch)
	}
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return err
	}

	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err = t.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      messageIDs,
		})
	} else {
		_, err = t.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
			ID:     messageIDs,
			Revoke: true,
		})
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", chat, err)
	}
	return nil
}

func (t *Transport) DownloadMedia(ctx context.Context, chat string, messageID int) ([]byte, error) {
	msg, err := t.getMessage(ctx, chat, messageID)
	if err != nil {
		return nil, err
	}
	md, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, fmt.Errorf("download %s/%d: no document media", chat, messageID)
	}
	doc, ok := md.Document.(*tg.Document)
	if !ok {
		return nil, fmt.Errorf("download %s/%d: empty document", chat, messageID)
	}

	var buf bytes.Buffer
	d := downloader.NewDownloader()
	_, err = d.Download(t.api, &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}).Stream(ctx, &buf)
	if err != nil {
		return nil, fmt.Errorf("download %s/%d: %w", chat, messageID, err)
	}
	return buf.Bytes(), nil
}

// lookupMedia re-reads the source message and wraps its attachment as an
// input media, so the copy references Telegram's storage instead of
// re-uploading bytes.
func (t *Transport) lookupMedia(ctx context.Context, ref transport.MediaRef) (tg.InputMediaClass, error) {
	msg, err := t.getMessage(ctx, ref.Chat, ref.MessageID)
	if err != nil {
		return nil, err
	}
	switch md := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := md.Document.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("media %s/%d: empty document", ref.Chat, ref.MessageID)
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}}, nil
	case *tg.MessageMediaPhoto:
		photo, ok := md.Photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("media %s/%d: empty photo", ref.Chat, ref.MessageID)
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}, nil
	default:
		return nil, fmt.Errorf("media %s/%d: unsupported media type %T", ref.Chat, ref.MessageID, msg.Media)
	}
}

func (t *Transport) getMessage(ctx context.Context, chat string, messageID int) (*tg.Message, error) {
	peer, err := t.resolvePeer(ctx, chat)
	if err != nil {
		return nil, err
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}}
	var res tg.MessagesMessagesClass
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		res, err = t.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = t.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s/%d: %w", chat, messageID, err)
	}
	for _, mc := range extractMessages(res) {
		if m, ok := mc.(*tg.Message); ok && m.ID == messageID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("get message %s/%d: not found", chat, messageID)
}

// resolvePeer accepts @name, t.me/name or a bare username and returns the
// cached input peer. Bots resolve to users, channels to channels.
func (t *Transport) resolvePeer(ctx context.Context, chat string) (tg.InputPeerClass, error) {
	username := normalizeUsername(chat)
	if username == "" {
		return nil, fmt.Errorf("resolve %q: not a username", chat)
	}

	t.mu.Lock()
	peer, ok := t.peers[username]
	t.mu.Unlock()
	if ok {
		return peer, nil
	}

	r, err := t.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return nil, fmt.Errorf("resolve @%s: %w", username, err)
	}

	for _, cc := range r.Chats {
		ch, ok := cc.(*tg.Channel)
		if !ok {
			continue
		}
		peer = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	}
	if peer == nil {
		for _, uc := range r.Users {
			u, ok := uc.(*tg.User)
			if !ok {
				continue
			}
			peer = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		}
	}
	if peer == nil {
		return nil, fmt.Errorf("resolve @%s: peer not found", username)
	}

	t.mu.Lock()
	t.peers[username] = peer
	t.mu.Unlock()
	return peer, nil
}

func normalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "@") {
		return strings.TrimPrefix(s, "@")
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if strings.HasPrefix(s, "t.me/") {
		return strings.TrimPrefix(s, "t.me/")
	}
	if strings.HasPrefix(s, "telegram.me/") {
		return strings.TrimPrefix(s, "telegram.me/")
	}
	return s
}

// sentMessageID digs the assigned message ID out of the updates Telegram
// returns for a send. Zero means the server reply carried no usable ID.
func sentMessageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		return updatesMessageID(u.Updates)
	case *tg.UpdatesCombined:
		return updatesMessageID(u.Updates)
	default:
		return 0
	}
}

func updatesMessageID(updates []tg.UpdateClass) int {
	for _, uc := range updates {
		switch u := uc.(type) {
		case *tg.UpdateMessageID:
			return u.ID
		case *tg.UpdateNewChannelMessage:
			if m, ok := u.Message.(*tg.Message); ok {
				return m.ID
			}
		case *tg.UpdateNewMessage:
			if m, ok := u.Message.(*tg.Message); ok {
				return m.ID
			}
		}
	}
	return 0
}

func extractMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesChannelMessages:
		return v.Messages
	default:
		return nil
	}
}

func convertMessages(msgs []tg.MessageClass) []transport.Message {
	out := make([]transport.Message, 0, len(msgs))
	for _, mc := range msgs {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, convertMessage(m))
	}
	return out
}

func convertMessage(m *tg.Message) transport.Message {
	msg := transport.Message{
		ID:   m.ID,
		Date: time.Unix(int64(m.Date), 0),
		Text: m.Message,
	}
	for _, ec := range m.Entities {
		if e, ok := ec.(*tg.MessageEntityTextURL); ok {
			msg.EntityURLs = append(msg.EntityURLs, e.URL)
		}
	}
	if md, ok := m.Media.(*tg.MessageMediaDocument); ok {
		if doc, ok := md.Document.(*tg.Document); ok {
			msg.Media = &transport.Media{MIMEType: doc.MimeType, Size: doc.Size}
		}
	}
	return msg
}
