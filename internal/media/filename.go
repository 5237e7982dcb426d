package media

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/blockedby/teleclone/internal/telegram"
)

const (
	defaultExt      = ".bin"
	defaultVideoExt = ".mp4"

	// UnnamedFile replaces names that sanitize to nothing.
	UnnamedFile = "unnamed"
)

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.()]+`)
	spaces      = regexp.MustCompile(`\s+`)
)

func extOf(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// baseName strips any directory part, whichever separator it uses.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

// FileName composes the outbound filename: the filename attribute, then
// the generic name, then <message id><ext>. sniffed is an extension found
// by content detection and is used only when metadata has none.
func FileName(msgID int, att *telegram.Attachment, kind Kind, sniffed string) string {
	if att != nil {
		for _, name := range []string{att.FileName, att.Name} {
			if safe := baseName(name); safe != "" {
				return safe
			}
		}
	}

	ext := ""
	if att != nil {
		ext = att.Ext
	}
	if ext == "" {
		ext = sniffed
	}
	if ext == "" {
		ext = defaultExt
		if kind == KindVideo {
			ext = defaultVideoExt
		}
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%d%s", msgID, ext)
}

// Sanitize makes s safe as a path component: runs of unsafe characters
// become "_", whitespace collapses, and the result is capped at n runes.
func Sanitize(s string, n int) string {
	s = strings.TrimSpace(unsafeChars.ReplaceAllString(s, "_"))
	s = spaces.ReplaceAllString(s, " ")
	if n > 0 && utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return UnnamedFile
	}
	return s
}
