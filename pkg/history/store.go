package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "chainpilot.history"

// Message is one persisted conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type entry struct {
	ThreadID string  `json:"thread_id"`
	Message  Message `json:"message"`
}

// Store manages thread files under a directory.
type Store struct {
	dir    string
	logger zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates the directory if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "history").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func validateThreadID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("thread id cannot be empty")
	case strings.Contains(id, ".."):
		return fmt.Errorf("thread id cannot contain '..'")
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("thread id contains invalid characters")
	}
	return nil
}

func (s *Store) path(threadID string) string {
	return filepath.Join(s.dir, threadID+".jsonl")
}

func (s *Store) lock(threadID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadID] = l
	}
	return l
}

// Append writes messages to the end of a thread in one write.
func (s *Store) Append(ctx context.Context, threadID string, msgs ...Message) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "history.append",
		attribute.String("thread_id", threadID), attribute.Int("messages", len(msgs)))
	defer span.End()

	if err := validateThreadID(threadID); err != nil {
		tracing.Fail(span, err)
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var buf []byte
	for _, m := range msgs {
		if m.Role == "" || m.Content == "" {
			err := fmt.Errorf("message role and content are required")
			tracing.Fail(span, err)
			return err
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		line, err := json.Marshal(entry{ThreadID: threadID, Message: m})
		if err != nil {
			tracing.Fail(span, err)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		buf = append(append(buf, line...), '\n')
	}

	l := s.lock(threadID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(s.path(threadID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		tracing.Fail(span, err)
		return fmt.Errorf("failed to open thread file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		tracing.Fail(span, err)
		return fmt.Errorf("failed to write thread file: %w", err)
	}
	if err := f.Sync(); err != nil {
		tracing.Fail(span, err)
		return fmt.Errorf("failed to sync thread file: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("thread_id", threadID).Int("messages", len(msgs)).Msg("Thread appended")
	return nil
}

// Load returns the last limit messages of a thread (all when limit <= 0).
// A missing thread is empty, not an error.
func (s *Store) Load(ctx context.Context, threadID string, limit int) ([]Message, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "history.load", attribute.String("thread_id", threadID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if err := validateThreadID(threadID); err != nil {
		tracing.Fail(span, err)
		return nil, err
	}

	f, err := os.Open(s.path(threadID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("failed to open thread file: %w", err)
	}
	defer f.Close()

	var msgs []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Message.Role == "" {
			logger.Warn().Str("thread_id", threadID).Int("line", line).Msg("Skipping corrupt history line")
			continue
		}
		msgs = append(msgs, e.Message)
	}
	if err := sc.Err(); err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("failed to read thread file: %w", err)
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Delete removes a thread. Deleting a missing thread is not an error.
func (s *Store) Delete(threadID string) error {
	if err := validateThreadID(threadID); err != nil {
		return err
	}
	l := s.lock(threadID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(threadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	s.locksMu.Lock()
	delete(s.locks, threadID)
	s.locksMu.Unlock()
	return nil
}

// Prune deletes threads not written to for maxAge. It returns the number of
// threads removed.
func (s *Store) Prune(maxAge time.Duration, now time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.Delete(strings.TrimSuffix(filepath.Base(m), ".jsonl")); err != nil {
			s.logger.Warn().Err(err).Str("file", m).Msg("Failed to prune thread")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Pruned idle threads")
	}
	return removed, nil
}
