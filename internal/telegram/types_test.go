package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestMessage_IsEmpty(t *testing.T) {
	tests := []struct {
		name      string
		msg       Message
		wantEmpty bool
	}{
		{
			name:      "text only",
			msg:       Message{ID: 1, Text: "hello world"},
			wantEmpty: false,
		},
		{
			name:      "media without caption",
			msg:       Message{ID: 2, Media: &Attachment{Photo: true}},
			wantEmpty: false,
		},
		{
			name:      "nothing at all",
			msg:       Message{ID: 3},
			wantEmpty: true,
		},
		{
			name:      "whitespace is still text",
			msg:       Message{ID: 4, Text: " "},
			wantEmpty: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsEmpty(); got != tt.wantEmpty {
				t.Errorf("Message.IsEmpty() = %v, want %v", got, tt.wantEmpty)
			}
		})
	}
}

func TestPeer_Permalink(t *testing.T) {
	tests := []struct {
		name string
		peer Peer
		id   int
		want string
	}{
		{
			name: "public username",
			peer: Peer{ID: 123456789, Username: "go_forum"},
			id:   42,
			want: "https://t.me/go_forum/42",
		},
		{
			name: "private channel",
			peer: Peer{ID: 1987654321},
			id:   7,
			want: "https://t.me/c/1987654321/7",
		},
		{
			name: "marked id",
			peer: Peer{ID: -1001987654321},
			id:   7,
			want: "https://t.me/c/1987654321/7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.peer.Permalink(tt.id); got != tt.want {
				t.Errorf("Permalink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPeer_InputPeer(t *testing.T) {
	tests := []struct {
		name string
		peer Peer
		want tg.InputPeerClass
	}{
		{
			name: "channel",
			peer: Peer{ID: 10, AccessHash: 20, Kind: PeerChannel},
			want: &tg.InputPeerChannel{ChannelID: 10, AccessHash: 20},
		},
		{
			name: "basic group",
			peer: Peer{ID: 11, Kind: PeerChat},
			want: &tg.InputPeerChat{ChatID: 11},
		},
		{
			name: "user",
			peer: Peer{ID: 12, AccessHash: 30, Kind: PeerUser},
			want: &tg.InputPeerUser{UserID: 12, AccessHash: 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.peer.InputPeer()
			if got.String() != tt.want.String() {
				t.Errorf("InputPeer() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := (Peer{Kind: PeerChat}).InputChannel(); ok {
		t.Errorf("InputChannel() on a basic group should fail")
	}
}

func TestPeer_DisplayName(t *testing.T) {
	tests := []struct {
		peer Peer
		want string
	}{
		{Peer{ID: 1, Title: "Go Jobs", Username: "golang_jobs"}, "Go Jobs"},
		{Peer{ID: 1, Username: "golang_jobs"}, "golang_jobs"},
		{Peer{ID: 1}, "1"},
	}

	for _, tt := range tests {
		if got := tt.peer.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}

func TestParticipant_Reachable(t *testing.T) {
	tests := []struct {
		name string
		p    Participant
		want bool
	}{
		{"username", Participant{ID: 1, Username: "bob"}, true},
		{"phone", Participant{ID: 2, Phone: "79990000000"}, true},
		{"neither", Participant{ID: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Reachable(); got != tt.want {
				t.Errorf("Reachable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttachment_SelfDestructing(t *testing.T) {
	var nilAtt *Attachment
	if nilAtt.SelfDestructing() {
		t.Errorf("nil attachment must not self-destruct")
	}
	if !(&Attachment{TTL: 10}).SelfDestructing() {
		t.Errorf("attachment with TTL should self-destruct")
	}
}
