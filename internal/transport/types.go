package transport

import "context"

// Update is an inbound chat event, normalized away from the concrete protocol.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

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

// Notification is a point-to-point alert handed to the notifier pipeline.
type Notification struct {
	Channel  string // logical stream, e.g. "claims"
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
