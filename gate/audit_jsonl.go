package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JSONLAuditSink appends one JSON object per line to a local file. Writes
// go straight to the file descriptor, so a crash loses at most the event
// in flight. When an event would push the file past rotateMaxBytes, the
// full file is renamed to a timestamped sibling (audit.jsonl becomes
// audit-20060102T150405Z.jsonl) and a fresh file is started.
type JSONLAuditSink struct {
	path string
	max  int64

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewJSONLAuditSink(path string, rotateMaxBytes int64) (*JSONLAuditSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing jsonl path")
	}
	if rotateMaxBytes <= 0 {
		rotateMaxBytes = 100 * 1024 * 1024
	}
	s := &JSONLAuditSink{path: path, max: rotateMaxBytes}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLAuditSink) Emit(ctx context.Context, e AuditEvent) error {
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	// An oversized event on an empty file is written anyway; rotating an
	// empty file would shed no bytes.
	if s.size > 0 && s.size+int64(len(line)) > s.max {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	if s.f == nil {
		return fmt.Errorf("audit sink is closed")
	}
	n, err := s.f.Write(line)
	s.size += int64(n)
	return err
}

func (s *JSONLAuditSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.size = 0
	return err
}

func (s *JSONLAuditSink) openLocked() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f = f
	s.size = st.Size()
	return nil
}

// rotateLocked moves the full file aside under a timestamped name that
// keeps the extension, then reopens the live path empty.
func (s *JSONLAuditSink) rotateLocked() error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}

	ext := filepath.Ext(s.path)
	stem := strings.TrimSuffix(s.path, ext)
	ts := time.Now().UTC().Format("20060102T150405Z")
	rotated := fmt.Sprintf("%s-%s%s", stem, ts, ext)
	if err := os.Rename(s.path, rotated); err != nil {
		// Keep appending to the oversized file rather than dropping events.
		return s.openLocked()
	}
	s.size = 0
	return s.openLocked()
}

var _ AuditSink = (*JSONLAuditSink)(nil)
