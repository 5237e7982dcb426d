package telegram

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gotd/td/tg"
)

// entities resolves author names from the users/chats attached to a response.
type entities struct {
	users map[int64]*tg.User
	chats map[int64]string
}

func newEntities(users []tg.UserClass, chats []tg.ChatClass) entities {
	e := entities{
		users: make(map[int64]*tg.User, len(users)),
		chats: make(map[int64]string, len(chats)),
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			e.users[user.ID] = user
		}
	}
	for _, c := range chats {
		switch ch := c.(type) {
		case *tg.Channel:
			e.chats[ch.ID] = ch.Title
		case *tg.Chat:
			e.chats[ch.ID] = ch.Title
		}
	}
	return e
}

func userDisplayName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = "?"
	}
	return name
}

func (e entities) sender(m *tg.Message) (int64, string) {
	switch from := m.FromID.(type) {
	case *tg.PeerUser:
		if u, ok := e.users[from.UserID]; ok {
			return from.UserID, userDisplayName(u)
		}
		return from.UserID, "?"
	case *tg.PeerChannel:
		return from.ChannelID, e.chats[from.ChannelID]
	case *tg.PeerChat:
		return from.ChatID, e.chats[from.ChatID]
	}

	// channel posts carry no author peer
	if m.PostAuthor != "" {
		return 0, m.PostAuthor
	}
	if ch, ok := m.PeerID.(*tg.PeerChannel); ok {
		return ch.ChannelID, e.chats[ch.ChannelID]
	}
	return 0, "?"
}

// rawMessages unpacks a history response.
func rawMessages(messagesClass tg.MessagesMessagesClass) ([]tg.MessageClass, entities) {
	switch h := messagesClass.(type) {
	case *tg.MessagesChannelMessages:
		return h.Messages, newEntities(h.Users, h.Chats)
	case *tg.MessagesMessagesSlice:
		return h.Messages, newEntities(h.Users, h.Chats)
	case *tg.MessagesMessages:
		return h.Messages, newEntities(h.Users, h.Chats)
	}
	return nil, entities{}
}

// extractMessages converts telegram message response to our Message type,
// sorted oldest first.
func extractMessages(messagesClass tg.MessagesMessagesClass, peerID int64) []Message {
	raw, ent := rawMessages(messagesClass)

	messages := make([]Message, 0, len(raw))
	for _, msg := range raw {
		if m := parseMessage(msg, peerID, ent); m != nil {
			messages = append(messages, *m)
		}
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages
}

// maxRawID returns the highest id in a history response, service messages
// and empty placeholders included.
func maxRawID(messagesClass tg.MessagesMessagesClass) int {
	raw, _ := rawMessages(messagesClass)
	top := 0
	for _, msg := range raw {
		if id := msg.GetID(); id > top {
			top = id
		}
	}
	return top
}

// totalCount returns the server-side message count of a history response.
func totalCount(messagesClass tg.MessagesMessagesClass) int {
	switch h := messagesClass.(type) {
	case *tg.MessagesChannelMessages:
		return h.Count
	case *tg.MessagesMessagesSlice:
		return h.Count
	case *tg.MessagesMessages:
		return len(h.Messages)
	}
	return 0
}

// parseMessage converts a single telegram message to our Message type.
// Service messages and empty placeholders are dropped.
func parseMessage(msg tg.MessageClass, peerID int64, ent entities) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	out := &Message{
		ID:     m.ID,
		PeerID: peerID,
		Text:   m.Message,
		Date:   unixTime(m.Date),
		Out:    m.Out,
		Media:  parseMedia(m.Media),
	}
	out.SenderID, out.SenderName = ent.sender(m)

	// extract topic id from reply header if it's a forum message
	if h, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && h.ForumTopic {
		if h.ReplyToTopID != 0 {
			out.TopicID = h.ReplyToTopID
		} else {
			out.TopicID = h.ReplyToMsgID
		}
	}

	return out
}

// parseMedia returns nil for media that carry nothing to copy. A
// self-destructing attachment is kept even once its body is gone, so it is
// reported as such rather than as an empty message.
func parseMedia(media tg.MessageMediaClass) *Attachment {
	switch md := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := md.Photo.(*tg.Photo)
		if !ok {
			return expired(md.TTLSeconds)
		}
		size := largestPhotoSize(photo.Sizes)
		if size == nil {
			return expired(md.TTLSeconds)
		}
		return &Attachment{
			Photo: true,
			MIME:  "image/jpeg",
			Size:  int64(size.bytes),
			Ext:   ".jpg",
			TTL:   md.TTLSeconds,
			location: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     size.kind,
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := md.Document.(*tg.Document)
		if !ok {
			return expired(md.TTLSeconds)
		}
		return parseDocument(doc, md.TTLSeconds)
	}
	return nil
}

func expired(ttl int) *Attachment {
	if ttl <= 0 {
		return nil
	}
	return &Attachment{TTL: ttl}
}

func parseDocument(doc *tg.Document, ttl int) *Attachment {
	att := &Attachment{
		MIME: doc.MimeType,
		Size: doc.Size,
		TTL:  ttl,
		location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}

	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			att.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			att.Video = &VideoMeta{
				Duration:          a.Duration,
				Width:             a.W,
				Height:            a.H,
				Codec:             a.VideoCodec,
				RoundMessage:      a.RoundMessage,
				Nosound:           a.Nosound,
				PreloadPrefixSize: a.PreloadPrefixSize,
			}
		case *tg.DocumentAttributeAudio:
			att.Audio = &AudioMeta{
				Duration:  a.Duration,
				Title:     a.Title,
				Performer: a.Performer,
				Voice:     a.Voice,
			}
		}
	}

	att.Ext = inferExt(att.FileName, att.MIME)
	if att.Audio != nil && att.Audio.Title != "" {
		name := att.Audio.Title
		if att.Audio.Performer != "" {
			name = att.Audio.Performer + " - " + name
		}
		att.Name = name + att.Ext
	}

	if thumb := largestPhotoSize(doc.Thumbs); thumb != nil {
		att.HasThumb = true
		att.thumbLocation = &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
			ThumbSize:     thumb.kind,
		}
	}

	return att
}

// inferExt derives an extension from the filename, then from the mime type.
func inferExt(fileName, mime string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return strings.ToLower(ext)
	}
	if mime == "" {
		return ""
	}
	if m := mimetype.Lookup(mime); m != nil {
		return m.Extension()
	}
	return ""
}

type photoSize struct {
	kind  string
	area  int
	bytes int
}

// largestPhotoSize picks the biggest downloadable size; stripped and
// cached inline sizes are skipped.
func largestPhotoSize(sizes []tg.PhotoSizeClass) *photoSize {
	var best *photoSize
	for _, s := range sizes {
		var cur photoSize
		switch ps := s.(type) {
		case *tg.PhotoSize:
			cur = photoSize{kind: ps.Type, area: ps.W * ps.H, bytes: ps.Size}
		case *tg.PhotoSizeProgressive:
			b := 0
			if n := len(ps.Sizes); n > 0 {
				b = ps.Sizes[n-1]
			}
			cur = photoSize{kind: ps.Type, area: ps.W * ps.H, bytes: b}
		default:
			continue
		}
		if best == nil || cur.area > best.area {
			c := cur
			best = &c
		}
	}
	return best
}

func unixTime(t int) time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0)
}
