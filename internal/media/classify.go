// Package media relays message attachments: download into a spool,
// classify, upload with part-size fallback and send.
package media

import (
	"strings"

	"github.com/blockedby/teleclone/internal/telegram"
)

// Kind is the closed set of attachment kinds.
type Kind int

// Attachment kinds.
const (
	KindNone Kind = iota
	KindPhoto
	KindVideo
	KindAudio
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindDocument:
		return "document"
	default:
		return "none"
	}
}

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".mkv": true, ".mov": true, ".webm": true, ".3gp": true, ".avi": true}
	audioExts = map[string]bool{".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".flac": true, ".wav": true}
)

// IsImageExt reports an extension rendered inline in archives.
func IsImageExt(ext string) bool { return imageExts[strings.ToLower(ext)] }

// IsVideoExt reports an extension sent with a streaming player.
func IsVideoExt(ext string) bool { return videoExts[strings.ToLower(ext)] }

// IsAudioExt reports an audio extension.
func IsAudioExt(ext string) bool { return audioExts[strings.ToLower(ext)] }

// Classify derives the kind of an attachment from its metadata.
func Classify(att *telegram.Attachment) Kind {
	if att == nil {
		return KindNone
	}
	if att.Photo {
		return KindPhoto
	}

	mime := strings.ToLower(att.MIME)
	switch {
	case att.Video != nil, strings.HasPrefix(mime, "video/"):
		return KindVideo
	case att.Audio != nil, strings.HasPrefix(mime, "audio/"):
		return KindAudio
	}

	ext := att.Ext
	if ext == "" {
		ext = extOf(att.FileName)
	}
	switch {
	case IsVideoExt(ext):
		return KindVideo
	case IsAudioExt(ext):
		return KindAudio
	}
	return KindDocument
}
