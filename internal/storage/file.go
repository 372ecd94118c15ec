package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// tailSize bounds the in-memory attempt tail served by RecentAttempts.
const tailSize = 512

// fileStore is a dependency-free persistence backend: an append-only JSON
// Lines file plus an in-memory tail for reads. The tail is rebuilt from the
// file at open, so recent history survives restarts.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File
	tail []AttemptRecord // oldest first, at most tailSize
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	tail, err := replayTail(path)
	if err != nil {
		log.Warn("attempt history replay failed; starting empty", logx.Err(err))
		tail = nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, file: f, tail: tail}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendAttempt(ctx context.Context, rec AttemptRecord) error {
	_ = ctx
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("attempt history file closed")
	}
	if err := json.NewEncoder(s.file).Encode(rec); err != nil {
		return err
	}
	s.tail = append(s.tail, rec)
	if len(s.tail) > tailSize {
		s.tail = s.tail[len(s.tail)-tailSize:]
	}
	return nil
}

func (s *fileStore) RecentAttempts(ctx context.Context, account string, limit int) ([]AttemptRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = tailSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AttemptRecord, 0, limit)
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		if account != "" && s.tail[i].Account != account {
			continue
		}
		out = append(out, s.tail[i])
	}
	return out, nil
}

func replayTail(path string) ([]AttemptRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var tail []AttemptRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec AttemptRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		tail = append(tail, rec)
		if len(tail) > tailSize {
			tail = tail[len(tail)-tailSize:]
		}
	}
	return tail, sc.Err()
}
