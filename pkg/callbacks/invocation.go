package callbacks

import (
	"context"
	"sync"
)

// ParseModeHTML is the only parse mode the bot sends.
const ParseModeHTML = "HTML"

// Button is an inline keyboard button.
type Button struct {
	Text string
	Data string
}

// SendOptions configures an outgoing message.
type SendOptions struct {
	ParseMode string
	Keyboard  [][]Button
	ReplyTo   int // message to quote, 0 for none
}

// Messenger is the part of the chat transport the adapters use.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)
	// EditMessageText reports false when the edit was not applied.
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) (bool, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Invocation is the state of one agent call: where to write and what the
// adapters observed.
type Invocation struct {
	UserID   int64
	ChatID   int64
	ThreadID string

	mu        sync.Mutex
	liveID    int
	txSuccess bool
	delivered bool
}

// NewInvocation starts with liveID as the thinking message.
func NewInvocation(userID, chatID int64, threadID string, liveID int) *Invocation {
	return &Invocation{UserID: userID, ChatID: chatID, ThreadID: threadID, liveID: liveID}
}

// LiveID is the message currently standing for the invocation.
func (i *Invocation) LiveID() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.liveID
}

// SetLiveID retargets the live pointer.
func (i *Invocation) SetLiveID(id int) {
	i.mu.Lock()
	i.liveID = id
	i.mu.Unlock()
}

// TxSuccess reports whether a tool_execution event arrived.
func (i *Invocation) TxSuccess() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.txSuccess
}

// Delivered reports whether the live message now shows an executed action
// and must be kept.
func (i *Invocation) Delivered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.delivered
}

func (i *Invocation) markTxSuccess() {
	i.mu.Lock()
	i.txSuccess = true
	i.mu.Unlock()
}

func (i *Invocation) markDelivered(liveID int) {
	i.mu.Lock()
	i.liveID = liveID
	i.delivered = true
	i.mu.Unlock()
}
