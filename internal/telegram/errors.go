package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// errors
var (
	ErrNotAuthorized        = errors.New("telegram client not authorized")
	ErrForumUnsupported     = errors.New("conversation has no forum topics")
	ErrFileReferenceExpired = errors.New("file reference expired")
	ErrFilePartsInvalid     = errors.New("file parts invalid")
	ErrMessageNotFound      = errors.New("message not found")
	ErrPeerNotFound         = errors.New("peer not found")
	ErrInviteRestricted     = errors.New("user privacy settings refused the invite")
)

// FloodWaitError is a rate-limit instruction with an explicit wait.
// RPC errors from the server are recognised directly; this type lets
// other layers express the same condition.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("FLOOD_WAIT_%d", int(e.Wait.Seconds()))
}

// FloodWait checks if error is a FLOOD_WAIT error and returns the wait.
// ok is true for flood errors even when the server gave no duration (wait 0).
func FloodWait(err error) (wait time.Duration, ok bool) {
	if err == nil {
		return 0, false
	}

	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return d, true
	}

	// wrapped errors that lost their type still carry the rpc string,
	// e.g. "rpc error code 420: FLOOD_WAIT (15)" or "FLOOD_WAIT_15"
	str := err.Error()
	if strings.Contains(str, "FLOOD_WAIT_") {
		var seconds int
		parts := strings.Split(str, "FLOOD_WAIT_")
		if len(parts) > 1 {
			_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

// IsFileReferenceExpired reports a stale media reference.
func IsFileReferenceExpired(err error) bool {
	return errors.Is(err, ErrFileReferenceExpired) ||
		tgerr.Is(err, "FILE_REFERENCE_EXPIRED", "FILE_REFERENCE_INVALID")
}

// IsFilePartsInvalid reports an upload rejected because of its part layout.
func IsFilePartsInvalid(err error) bool {
	return errors.Is(err, ErrFilePartsInvalid) ||
		tgerr.Is(err, "FILE_PARTS_INVALID", "FILE_PART_SIZE_INVALID", "FILE_PART_SIZE_CHANGED")
}

// IsForumUnsupported reports that a conversation cannot list topics.
// Peer errors are not included: they mean the conversation itself is
// unusable.
func IsForumUnsupported(err error) bool {
	return errors.Is(err, ErrForumUnsupported) ||
		tgerr.Is(err, "CHANNEL_FORUM_MISSING")
}

// IsFatal reports errors that make the destination unusable for the rest
// of an operation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		tgerr.Is(err,
			"CHAT_WRITE_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "CHANNEL_PRIVATE",
			"USER_BANNED_IN_CHANNEL", "CHAT_RESTRICTED", "AUTH_KEY_UNREGISTERED")
}

// InviteErrorKind classifies the result of an invitation attempt.
type InviteErrorKind int

// Invitation error classes.
const (
	InviteUnknown InviteErrorKind = iota
	InvitePrivacy
	InviteQuota
	InviteAlreadyMember
	InviteFatal
)

func (k InviteErrorKind) String() string {
	switch k {
	case InvitePrivacy:
		return "privacy"
	case InviteQuota:
		return "quota"
	case InviteAlreadyMember:
		return "already_member"
	case InviteFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyInviteError maps an invitation error to its class.
func ClassifyInviteError(err error) InviteErrorKind {
	switch {
	case err == nil:
		return InviteUnknown
	case tgerr.Is(err,
		"CHAT_ADMIN_REQUIRED", "CHAT_WRITE_FORBIDDEN", "CHANNEL_PRIVATE",
		"CHANNEL_INVALID", "PEER_FLOOD", "USERS_TOO_MUCH", "INVITE_FORBIDDEN_WITH_JOINAS"):
		return InviteFatal
	case errors.Is(err, ErrInviteRestricted):
		return InvitePrivacy
	case tgerr.Is(err,
		"USER_PRIVACY_RESTRICTED", "USER_NOT_MUTUAL_CONTACT", "USER_KICKED",
		"USER_BANNED_IN_CHANNEL", "USER_BOT", "INPUT_USER_DEACTIVATED", "USER_ID_INVALID"):
		return InvitePrivacy
	case tgerr.Is(err, "USER_CHANNELS_TOO_MUCH", "USERS_TOO_FEW"):
		return InviteQuota
	case tgerr.Is(err, "USER_ALREADY_PARTICIPANT"):
		return InviteAlreadyMember
	default:
		return InviteUnknown
	}
}
