// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/go-faster/errors"
	"github.com/gotd/td/crypto"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/teleclone/internal/logger"
)

const (
	dialogsPageSize      = 100
	participantsPageSize = 200
)

// Client wraps gotgproto client and provides high-level telegram operations.
// Every call goes through the shared rate limiter; a flood error seen here
// also pauses the other callers.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager, limiter *RateLimiter) *Client {
	if limiter == nil {
		limiter = DefaultRateLimiter()
	}
	return &Client{
		manager:     manager,
		rateLimiter: limiter,
		log:         logger.Get(),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrNotAuthorized
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// call waits for the limiter, runs fn and records any flood wait it hit.
func (c *Client) call(ctx context.Context, op string, fn func(api *tg.Client) error) error {
	if err := c.rateLimiter.Wait(ctx, op); err != nil {
		return err
	}

	api, err := c.API()
	if err != nil {
		return err
	}

	err = fn(api)
	if wait, ok := FloodWait(err); ok && wait > 0 {
		c.log.Warn().
			Str("op", op).
			Int("wait_seconds", int(wait.Seconds())).
			Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
		c.rateLimiter.SetFloodWait(op, wait)
	}
	return err
}

func peerFromChat(chat tg.ChatClass) (Peer, bool) {
	switch ch := chat.(type) {
	case *tg.Channel:
		return Peer{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Kind:       PeerChannel,
			Title:      ch.Title,
			Username:   ch.Username,
			IsForum:    ch.Forum,
		}, true
	case *tg.Chat:
		if ch.Deactivated {
			return Peer{}, false
		}
		return Peer{ID: ch.ID, Kind: PeerChat, Title: ch.Title}, true
	}
	return Peer{}, false
}

func peerFromUser(user tg.UserClass) (Peer, bool) {
	u, ok := user.(*tg.User)
	if !ok {
		return Peer{}, false
	}
	return Peer{
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Kind:       PeerUser,
		Title:      userDisplayName(u),
		Username:   u.Username,
	}, true
}

// Dialogs lists the group and channel conversations of the account,
// sorted by title.
func (c *Client) Dialogs(ctx context.Context) ([]Peer, error) {
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogsPageSize,
	}

	seen := make(map[int64]bool)
	var out []Peer

	for {
		var res tg.MessagesDialogsClass
		err := c.call(ctx, "dialogs", func(api *tg.Client) (err error) {
			res, err = api.MessagesGetDialogs(ctx, req)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get dialogs: %w", err)
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			chats    []tg.ChatClass
			users    []tg.UserClass
			complete bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, chats, users, complete = d.Dialogs, d.Messages, d.Chats, d.Users, true
		case *tg.MessagesDialogsSlice:
			dialogs, messages, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
		default:
			complete = true
		}

		for _, chat := range chats {
			p, ok := peerFromChat(chat)
			if !ok || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}

		if complete || len(dialogs) < dialogsPageSize {
			break
		}

		next, ok := nextDialogsOffset(dialogs[len(dialogs)-1], messages, chats, users)
		if !ok {
			break
		}
		req.OffsetID, req.OffsetDate, req.OffsetPeer = next.id, next.date, next.peer
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out, nil
}

type dialogsOffset struct {
	id   int
	date int
	peer tg.InputPeerClass
}

// nextDialogsOffset derives the continuation cursor from the last dialog
// of a page: its top message id and date plus its input peer.
func nextDialogsOffset(last tg.DialogClass, messages []tg.MessageClass, chats []tg.ChatClass, users []tg.UserClass) (dialogsOffset, bool) {
	off := dialogsOffset{id: last.GetTopMessage()}

	for _, m := range messages {
		switch msg := m.(type) {
		case *tg.Message:
			if msg.ID == off.id {
				off.date = msg.Date
			}
		case *tg.MessageService:
			if msg.ID == off.id {
				off.date = msg.Date
			}
		}
	}

	switch p := last.GetPeer().(type) {
	case *tg.PeerUser:
		for _, u := range users {
			if peer, ok := peerFromUser(u); ok && peer.ID == p.UserID {
				off.peer = peer.InputPeer()
			}
		}
	case *tg.PeerChat:
		off.peer = &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		for _, ch := range chats {
			if peer, ok := peerFromChat(ch); ok && peer.ID == p.ChannelID {
				off.peer = peer.InputPeer()
			}
		}
	}

	return off, off.peer != nil
}

// ResolvePeer resolves a conversation reference: @username, username,
// a bare numeric id, or a -100 prefixed channel id.
func (c *Client) ResolvePeer(ctx context.Context, ref string) (Peer, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Peer{}, ErrPeerNotFound
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return c.resolveByID(ctx, id)
	}

	username := strings.TrimPrefix(ref, "@")
	username = strings.TrimPrefix(username, "https://t.me/")

	c.log.Info().Str("username", username).Msg("telegram: resolving username")

	var resolved *tg.ContactsResolvedPeer
	err := c.call(ctx, "resolve", func(api *tg.Client) (err error) {
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: username,
		})
		return err
	})
	if err != nil {
		return Peer{}, fmt.Errorf("resolve username %s: %w", username, err)
	}

	for _, chat := range resolved.Chats {
		if p, ok := peerFromChat(chat); ok {
			return p, nil
		}
	}
	for _, user := range resolved.Users {
		if p, ok := peerFromUser(user); ok {
			return p, nil
		}
	}
	return Peer{}, fmt.Errorf("%w: %s", ErrPeerNotFound, username)
}

func (c *Client) resolveByID(ctx context.Context, id int64) (Peer, error) {
	bare := id
	if s := strconv.FormatInt(id, 10); strings.HasPrefix(s, "-100") {
		bare, _ = strconv.ParseInt(s[4:], 10, 64)
	} else if id < 0 {
		bare = -id
	}

	dialogs, err := c.Dialogs(ctx)
	if err != nil {
		return Peer{}, err
	}
	for _, p := range dialogs {
		if p.ID == bare {
			return p, nil
		}
	}
	return Peer{}, fmt.Errorf("%w: %d", ErrPeerNotFound, id)
}

// ForumTopics fetches one page of forum topics after cursor.
func (c *Client) ForumTopics(ctx context.Context, peer Peer, cursor TopicCursor, limit int) ([]Topic, error) {
	if peer.Kind != PeerChannel {
		return nil, ErrForumUnsupported
	}

	offsetDate := 0
	if !cursor.Date.IsZero() {
		offsetDate = int(cursor.Date.Unix())
	}

	var result *tg.MessagesForumTopics
	err := c.call(ctx, "forum_topics", func(api *tg.Client) (err error) {
		result, err = api.MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
			Peer:        peer.InputPeer(),
			OffsetDate:  offsetDate,
			OffsetID:    cursor.ID,
			OffsetTopic: cursor.Topic,
			Limit:       limit,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get forum topics: %w", err)
	}

	out := make([]Topic, 0, len(result.Topics))
	for _, t := range result.Topics {
		topic, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		out = append(out, Topic{
			ID:         topic.ID,
			Title:      topic.Title,
			TopMessage: topic.TopMessage,
			Date:       unixTime(topic.Date),
		})
	}
	return out, nil
}

// History fetches up to q.Limit messages with ids above q.AfterID, oldest
// first. A non-zero TopicID restricts the page to that forum thread. The
// page cursor advances past service messages, which are not returned.
func (c *Client) History(ctx context.Context, peer Peer, q HistoryQuery) (HistoryPage, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 100 // telegram api limit
	}

	var res tg.MessagesMessagesClass
	err := c.call(ctx, "history", func(api *tg.Client) (err error) {
		if q.TopicID != 0 {
			res, err = api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
				Peer:      peer.InputPeer(),
				MsgID:     q.TopicID, // topic id is the message id
				OffsetID:  q.AfterID + 1,
				AddOffset: -q.Limit,
				Limit:     q.Limit,
				MinID:     q.AfterID,
			})
			return err
		}
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      peer.InputPeer(),
			OffsetID:  q.AfterID + 1,
			AddOffset: -q.Limit,
			Limit:     q.Limit,
			MinID:     q.AfterID,
		})
		return err
	})
	if err != nil {
		return HistoryPage{}, fmt.Errorf("get history: %w", err)
	}

	all := extractMessages(res, peer.ID)
	page := HistoryPage{Messages: all[:0]}
	for _, m := range all {
		if m.ID > q.AfterID {
			page.Messages = append(page.Messages, m)
		}
	}
	if top := maxRawID(res); top > q.AfterID {
		page.Cursor = top
	}
	return page, nil
}

// Count returns the total number of messages in the chat or topic.
func (c *Client) Count(ctx context.Context, peer Peer, topicID int) (int, error) {
	var res tg.MessagesMessagesClass
	err := c.call(ctx, "count", func(api *tg.Client) (err error) {
		if topicID != 0 {
			res, err = api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
				Peer:  peer.InputPeer(),
				MsgID: topicID,
				Limit: 1,
			})
			return err
		}
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:  peer.InputPeer(),
			Limit: 1,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return totalCount(res), nil
}

// GetMessage refetches a single message, e.g. to refresh a media reference.
func (c *Client) GetMessage(ctx context.Context, peer Peer, id int) (*Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}

	var res tg.MessagesMessagesClass
	err := c.call(ctx, "get_message", func(api *tg.Client) (err error) {
		if ch, ok := peer.InputChannel(); ok {
			res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
				Channel: ch,
				ID:      ids,
			})
			return err
		}
		res, err = api.MessagesGetMessages(ctx, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}

	for _, m := range extractMessages(res, peer.ID) {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrMessageNotFound, id)
}

// Download streams the attachment into w.
func (c *Client) Download(ctx context.Context, att *Attachment, w io.Writer) error {
	if att == nil || att.location == nil {
		return errors.New("attachment has no file location")
	}
	return c.download(ctx, att.location, w)
}

// DownloadThumb streams the attachment's preview image into w.
func (c *Client) DownloadThumb(ctx context.Context, att *Attachment, w io.Writer) error {
	if att == nil || att.thumbLocation == nil {
		return errors.New("attachment has no thumbnail")
	}
	return c.download(ctx, att.thumbLocation, w)
}

func (c *Client) download(ctx context.Context, loc tg.InputFileLocationClass, w io.Writer) error {
	return c.call(ctx, "download", func(api *tg.Client) error {
		_, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, w)
		return err
	})
}

// Upload sends size bytes from r as a file handle using partSize byte parts.
func (c *Client) Upload(ctx context.Context, r io.Reader, size int64, name string, partSize int) (*InputFile, error) {
	var file tg.InputFileClass
	err := c.call(ctx, "upload", func(api *tg.Client) (err error) {
		up := uploader.NewUploader(api).WithPartSize(partSize)
		file, err = up.Upload(ctx, uploader.NewUpload(name, r, size))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "upload %s", name)
	}
	return &InputFile{File: file, Name: name, Size: size}, nil
}

func randomID() (int64, error) {
	id, err := crypto.RandInt64(crypto.DefaultRand())
	if err != nil {
		return 0, errors.Wrap(err, "generate random id")
	}
	return id, nil
}

func replyTo(msgID int) tg.InputReplyToClass {
	if msgID == 0 {
		return nil
	}
	return &tg.InputReplyToMessage{ReplyToMsgID: msgID}
}

// SendText posts a text message, threaded under replyToID when non-zero.
func (c *Client) SendText(ctx context.Context, dst Peer, text string, replyToID int) error {
	id, err := randomID()
	if err != nil {
		return err
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:     dst.InputPeer(),
		Message:  text,
		RandomID: id,
	}
	if r := replyTo(replyToID); r != nil {
		req.ReplyTo = r
	}

	err = c.call(ctx, "send_text", func(api *tg.Client) error {
		_, err := api.MessagesSendMessage(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMedia posts an uploaded file with its caption and attributes.
func (c *Client) SendMedia(ctx context.Context, dst Peer, out Outgoing) error {
	if out.File == nil {
		return errors.New("outgoing media without file")
	}

	id, err := randomID()
	if err != nil {
		return err
	}
	req := &tg.MessagesSendMediaRequest{
		Peer:     dst.InputPeer(),
		Media:    buildInputMedia(out),
		Message:  out.Caption,
		RandomID: id,
	}
	if r := replyTo(out.ReplyTo); r != nil {
		req.ReplyTo = r
	}

	err = c.call(ctx, "send_media", func(api *tg.Client) error {
		_, err := api.MessagesSendMedia(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

func buildInputMedia(out Outgoing) tg.InputMediaClass {
	if out.Photo && !out.ForceFile {
		return &tg.InputMediaUploadedPhoto{File: out.File.File}
	}

	var attrs []tg.DocumentAttributeClass
	if out.FileName != "" {
		attrs = append(attrs, &tg.DocumentAttributeFilename{FileName: out.FileName})
	}
	if v := out.Video; v != nil {
		attrs = append(attrs, &tg.DocumentAttributeVideo{
			RoundMessage:      v.RoundMessage,
			SupportsStreaming: out.Streaming,
			Nosound:           v.Nosound,
			Duration:          v.Duration,
			W:                 v.Width,
			H:                 v.Height,
			PreloadPrefixSize: v.PreloadPrefixSize,
			VideoCodec:        v.Codec,
		})
	}
	if a := out.Audio; a != nil {
		attrs = append(attrs, &tg.DocumentAttributeAudio{
			Voice:     a.Voice,
			Duration:  a.Duration,
			Title:     a.Title,
			Performer: a.Performer,
		})
	}

	mime := out.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}

	doc := &tg.InputMediaUploadedDocument{
		File:       out.File.File,
		MimeType:   mime,
		Attributes: attrs,
		ForceFile:  out.ForceFile,
	}
	if out.Thumb != nil {
		doc.Thumb = out.Thumb.File
	}
	return doc
}

// Subscribe calls fn for every new message in peer until ctx is done.
func (c *Client) Subscribe(ctx context.Context, peer Peer, fn func(Message)) error {
	proto, err := c.getProto()
	if err != nil {
		return err
	}

	proto.Dispatcher.AddHandler(handlers.NewMessage(filters.Message.All, func(_ *ext.Context, u *ext.Update) error {
		if ctx.Err() != nil || u.EffectiveMessage == nil || u.EffectiveMessage.Message == nil {
			return nil
		}
		raw := u.EffectiveMessage.Message
		if peerIDOf(raw.PeerID) != peer.ID {
			return nil
		}
		if m := parseMessage(raw, peer.ID, entities{}); m != nil {
			fn(*m)
		}
		return nil
	}))

	c.log.Info().Int64("peer_id", peer.ID).Msg("telegram: subscribed to new messages")
	<-ctx.Done()
	return nil
}

func peerIDOf(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerChannel:
		return v.ChannelID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerUser:
		return v.UserID
	}
	return 0
}

func participantFromUser(user tg.UserClass) (Participant, bool) {
	u, ok := user.(*tg.User)
	if !ok {
		return Participant{}, false
	}
	return Participant{
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Username:   u.Username,
		Phone:      u.Phone,
		Bot:        u.Bot,
		Deleted:    u.Deleted,
	}, true
}

// Participants walks the member list of a group or channel. Iteration
// stops at the first error returned by fn.
func (c *Client) Participants(ctx context.Context, peer Peer, fn func(Participant) error) error {
	ch, ok := peer.InputChannel()
	if !ok {
		var full *tg.MessagesChatFull
		err := c.call(ctx, "participants", func(api *tg.Client) (err error) {
			full, err = api.MessagesGetFullChat(ctx, peer.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("get full chat: %w", err)
		}
		for _, user := range full.Users {
			if p, ok := participantFromUser(user); ok {
				if err := fn(p); err != nil {
					return err
				}
			}
		}
		return nil
	}

	offset := 0
	for {
		var res tg.ChannelsChannelParticipantsClass
		err := c.call(ctx, "participants", func(api *tg.Client) (err error) {
			res, err = api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
				Channel: ch,
				Filter:  &tg.ChannelParticipantsRecent{},
				Offset:  offset,
				Limit:   participantsPageSize,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("get participants: %w", err)
		}

		page, ok := res.(*tg.ChannelsChannelParticipants)
		if !ok || len(page.Users) == 0 {
			return nil
		}
		for _, user := range page.Users {
			if p, ok := participantFromUser(user); ok {
				if err := fn(p); err != nil {
					return err
				}
			}
		}

		offset += len(page.Participants)
		if offset >= page.Count || len(page.Participants) == 0 {
			return nil
		}
	}
}

// Invite adds a participant to dst. A user the service silently refused
// for privacy reasons is reported as ErrInviteRestricted.
func (c *Client) Invite(ctx context.Context, dst Peer, p Participant) error {
	user := &tg.InputUser{UserID: p.ID, AccessHash: p.AccessHash}

	var res *tg.MessagesInvitedUsers
	err := c.call(ctx, "invite", func(api *tg.Client) (err error) {
		if ch, ok := dst.InputChannel(); ok {
			res, err = api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
				Channel: ch,
				Users:   []tg.InputUserClass{user},
			})
			return err
		}
		res, err = api.MessagesAddChatUser(ctx, &tg.MessagesAddChatUserRequest{
			ChatID: dst.ID,
			UserID: user,
		})
		return err
	})
	if err != nil {
		return err
	}
	if res != nil && len(res.MissingInvitees) > 0 {
		return ErrInviteRestricted
	}
	return nil
}
