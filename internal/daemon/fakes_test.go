package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/chainpilot/pkg/callbacks"
	"github.com/harun/chainpilot/pkg/orchestrator"
	"github.com/harun/chainpilot/pkg/store"
)

type sentMessage struct {
	chatID int64
	text   string
	opts   callbacks.SendOptions
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	deleted  []int
	answered []string
	nextID   int
	sendErr  error
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, opts callbacks.SendOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, opts: opts})
	return f.nextID, nil
}

func (f *fakeTransport) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) (bool, error) {
	return true, nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, queryID)
	return nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.text
	}
	return out
}

type fakeOrch struct {
	mu     sync.Mutex
	calls  []orchestrator.Interaction
	result orchestrator.Result
	err    error
}

func (f *fakeOrch) HandleInteraction(ctx context.Context, in orchestrator.Interaction) (orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return f.result, f.err
}

// memUsers is an in-memory store.UserStore.
type memUsers struct {
	mu      sync.Mutex
	users   map[int64]*store.User
	threads int
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[int64]*store.User)}
}

func (m *memUsers) GetMnemonicByTelegramID(ctx context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Mnemonic == "" {
		return "", store.ErrNotFound
	}
	return u.Mnemonic, nil
}

func (m *memUsers) GetOrCreateUser(ctx context.Context, p store.UserParams) (*store.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[p.TelegramID]; ok {
		cp := *u
		return &cp, false, nil
	}
	m.threads++
	u := &store.User{
		ID:              int64(len(m.users) + 1),
		TelegramID:      p.TelegramID,
		Username:        p.Username,
		Name:            p.Name,
		ReferredBy:      p.ReferredBy,
		ReferralCode:    fmt.Sprintf("ref%d", p.TelegramID),
		CurrentThreadID: fmt.Sprintf("thread-%d", m.threads),
	}
	m.users[p.TelegramID] = u
	cp := *u
	return &cp, true, nil
}

func (m *memUsers) GetUser(ctx context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) SetMnemonic(ctx context.Context, id int64, mnemonic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Mnemonic = mnemonic
	return nil
}

func (m *memUsers) RotateThread(ctx context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return "", store.ErrNotFound
	}
	m.threads++
	u.CurrentThreadID = fmt.Sprintf("thread-%d", m.threads)
	return u.CurrentThreadID, nil
}

var errBoom = errors.New("boom")

func textUpdate(id int, userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: id * 10,
		From:      &tgbotapi.User{ID: userID, UserName: "alice", FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
		Date:      1700000000,
	}
	if len(text) > 0 && text[0] == '/' {
		end := len(text)
		for i, r := range text {
			if r == ' ' {
				end = i
				break
			}
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return tgbotapi.Update{UpdateID: id, Message: msg}
}

func callbackUpdate(id int, queryID string, userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   queryID,
			From: &tgbotapi.User{ID: userID},
			Message: &tgbotapi.Message{
				MessageID: 77,
				Chat:      &tgbotapi.Chat{ID: userID},
			},
			Data: data,
		},
	}
}
