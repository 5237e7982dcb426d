package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/teleclone/internal/telegram"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		name    string
		id      int
		att     *telegram.Attachment
		kind    Kind
		sniffed string
		want    string
	}{
		{
			name: "filename attribute wins",
			id:   5,
			att:  &telegram.Attachment{FileName: "report.pdf", Name: "other.pdf", Ext: ".pdf"},
			kind: KindDocument,
			want: "report.pdf",
		},
		{
			name: "path components stripped",
			id:   5,
			att:  &telegram.Attachment{FileName: `C:\Users\me/holiday.jpg `},
			kind: KindDocument,
			want: "holiday.jpg",
		},
		{
			name: "generic name next",
			id:   6,
			att:  &telegram.Attachment{Name: "Band - Song.mp3", Ext: ".mp3"},
			kind: KindAudio,
			want: "Band - Song.mp3",
		},
		{
			name: "id plus inferred ext",
			id:   7,
			att:  &telegram.Attachment{Photo: true, Ext: ".jpg"},
			kind: KindPhoto,
			want: "7.jpg",
		},
		{
			name: "video defaults to mp4",
			id:   8,
			att:  &telegram.Attachment{MIME: "video/x-unknown"},
			kind: KindVideo,
			want: "8.mp4",
		},
		{
			name: "generic defaults to bin",
			id:   9,
			att:  &telegram.Attachment{},
			kind: KindDocument,
			want: "9.bin",
		},
		{
			name:    "sniffed ext before default",
			id:      10,
			att:     &telegram.Attachment{},
			kind:    KindDocument,
			sniffed: ".zip",
			want:    "10.zip",
		},
		{
			name: "blank attribute ignored",
			id:   11,
			att:  &telegram.Attachment{FileName: "  ", Ext: "png"},
			kind: KindDocument,
			want: "11.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.id, tt.att, tt.kind, tt.sniffed))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Go Jobs", 150, "Go Jobs"},
		{"a/b\\c:d", 150, "a_b_c_d"},
		{"  many   spaces\there ", 150, "many spaces here"},
		{"Тема №1", 150, "Тема _1"},
		{"★★★", 150, "_"},
		{"", 150, UnnamedFile},
		{"abcdef", 3, "abc"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in, tt.n), "input %q", tt.in)
	}

	long := strings.Repeat("x", 500)
	assert.Len(t, Sanitize(long, 150), 150)
}
