package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"
)

// PeerKind tells which input peer constructor a Peer maps to.
type PeerKind int

// Peer kinds.
const (
	PeerChannel PeerKind = iota
	PeerChat
	PeerUser
)

// Peer represents a conversation handle (channel, supergroup, basic group or user).
type Peer struct {
	ID         int64    // bare peer id
	AccessHash int64    // access hash for api calls
	Kind       PeerKind // constructor selector
	Title      string   // chat title or user display name
	Username   string   // public username (without @)
	IsForum    bool     // whether it's a forum-type supergroup
}

// InputPeer converts the handle to a tg input peer.
func (p Peer) InputPeer() tg.InputPeerClass {
	switch p.Kind {
	case PeerChat:
		return &tg.InputPeerChat{ChatID: p.ID}
	case PeerUser:
		return &tg.InputPeerUser{UserID: p.ID, AccessHash: p.AccessHash}
	default:
		return &tg.InputPeerChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
	}
}

// InputChannel returns the channel input or false when the peer is not a channel.
func (p Peer) InputChannel() (*tg.InputChannel, bool) {
	if p.Kind != PeerChannel {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: p.ID, AccessHash: p.AccessHash}, true
}

// Permalink builds a public or private t.me link to a message.
func (p Peer) Permalink(msgID int) string {
	if p.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", p.Username, msgID)
	}
	id := fmt.Sprint(p.ID)
	id = strings.TrimPrefix(strings.TrimPrefix(id, "-"), "100")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, msgID)
}

// DisplayName returns the title, falling back to the username or the id.
func (p Peer) DisplayName() string {
	switch {
	case p.Title != "":
		return p.Title
	case p.Username != "":
		return p.Username
	default:
		return fmt.Sprint(p.ID)
	}
}

// Topic represents a forum topic
type Topic struct {
	ID         int       // topic id (same as message_thread_id)
	Title      string    // topic title
	TopMessage int       // id of last message in topic
	Date       time.Time // topic creation date, used as pagination cursor
}

// TopicCursor is the pagination offset for forum topic listing,
// taken from the last topic of the previous page.
type TopicCursor struct {
	Date  time.Time
	ID    int // offset message id (top message of the last topic)
	Topic int // offset topic id
}

// HistoryQuery selects a page of history, oldest first.
type HistoryQuery struct {
	TopicID int // 0 = whole chat
	AfterID int // only ids greater than this
	Limit   int
}

// HistoryPage is one page of history. Cursor is the highest id the server
// returned, counting service messages that are not in Messages; it is 0
// once the history is exhausted.
type HistoryPage struct {
	Messages []Message
	Cursor   int
}

// GeneralTopicID is the reserved id of the default thread.
const GeneralTopicID = 0

// GeneralTopicTitle is the display name of the default thread.
const GeneralTopicTitle = "General"

// Message represents a parsed telegram message
type Message struct {
	ID         int         // message id (unique within chat)
	PeerID     int64       // chat the message belongs to
	Text       string      // message text content
	Date       time.Time   // message creation timestamp
	SenderID   int64       // author id, 0 when unknown
	SenderName string      // author display name
	Out        bool        // sent by the current account
	TopicID    int         // forum topic id (0 for general / non-forum)
	Media      *Attachment // nil when the message has no downloadable media
}

// HasMedia reports whether the message carries an attachment.
func (m *Message) HasMedia() bool {
	return m != nil && m.Media != nil
}

// IsEmpty reports whether there is nothing to relay.
func (m *Message) IsEmpty() bool {
	return !m.HasMedia() && m.Text == ""
}

// VideoMeta carries the source video attribute so the destination
// renders an inline player.
type VideoMeta struct {
	Duration          float64
	Width             int
	Height            int
	Codec             string
	RoundMessage      bool
	Nosound           bool
	PreloadPrefixSize int
}

// AudioMeta carries the source audio attribute.
type AudioMeta struct {
	Duration  int
	Title     string
	Performer string
	Voice     bool
}

// Attachment describes a downloadable media item in its raw shape.
// Use media.Classify to derive its kind.
type Attachment struct {
	Photo    bool       // photo media (not a document)
	MIME     string     // document mime type
	Size     int64      // declared size in bytes
	FileName string     // explicit filename attribute
	Name     string     // generic name derived from other attributes
	Ext      string     // extension inferred from metadata, with leading dot
	TTL      int        // self-destruct period in seconds, 0 if none
	Video    *VideoMeta // video attribute, nil otherwise
	Audio    *AudioMeta // audio attribute, nil otherwise
	HasThumb bool       // a preview thumbnail can be fetched

	location      tg.InputFileLocationClass
	thumbLocation tg.InputFileLocationClass
}

// SelfDestructing reports whether the media has a TTL.
func (a *Attachment) SelfDestructing() bool {
	return a != nil && a.TTL > 0
}

// InputFile is an uploaded file handle.
type InputFile struct {
	File tg.InputFileClass
	Name string
	Size int64
}

// Outgoing describes a media message to send.
type Outgoing struct {
	File      *InputFile
	Thumb     *InputFile // optional video preview
	Photo     bool       // send as photo instead of document
	MIME      string
	FileName  string
	Caption   string
	Streaming bool
	Video     *VideoMeta
	Audio     *AudioMeta
	ForceFile bool
	ReplyTo   int // destination topic id, 0 = none
}

// Participant is a member of a group that may be invited elsewhere.
type Participant struct {
	ID         int64
	AccessHash int64
	Username   string
	Phone      string
	Bot        bool
	Deleted    bool
}

// Reachable reports whether the participant has a username or phone,
// the same criterion used before attempting an invite.
func (p Participant) Reachable() bool {
	return p.Username != "" || p.Phone != ""
}
