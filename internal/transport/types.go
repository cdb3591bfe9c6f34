package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is one outbound operator message (update alerts, log forwarding).
//
// Key, when set, is used as the dedup identity instead of a hash of the text.
// Watch alerts set it to region+cycle so a re-estimated ETA doesn't re-alert.
type Notification struct {
	Channel  string // "telegram"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Key      string
	Text     string
	Options  *SendOptions
}

// Sender delivers text to a chat. tagtimer only pushes; it never reads updates.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender with a lifecycle.
type Adapter interface {
	Sender
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
