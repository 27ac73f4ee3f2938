package actionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

var _ contractx.ActionLog = (*FileLog)(nil)

// FileLog appends one JSON object per line. Entries are never rewritten and
// an id already in the file is not written again.
type FileLog struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{} // nil until the file has been scanned
}

func NewFileLog(path string) (*FileLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: action log path is empty", contractx.ErrValidation)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create action log dir: %w", err)
		}
	}
	return &FileLog{path: path}, nil
}

func (l *FileLog) Append(ctx context.Context, entry contractx.ActionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal action entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen == nil {
		seen, err := readIDs(l.path)
		if err != nil {
			return fmt.Errorf("%w: read action log: %v", contractx.ErrExternalUnavailable, err)
		}
		l.seen = seen
	}
	if _, dup := l.seen[entry.ID]; dup {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open action log: %v", contractx.ErrExternalUnavailable, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write action log: %v", contractx.ErrExternalUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close action log: %v", contractx.ErrExternalUnavailable, err)
	}
	l.seen[entry.ID] = struct{}{}
	return nil
}

func readIDs(path string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return seen, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(scanner.Bytes(), &rec) == nil && rec.ID != "" {
			seen[rec.ID] = struct{}{}
		}
	}
	return seen, scanner.Err()
}

func validateEntry(entry contractx.ActionEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("%w: action entry id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(entry.CustomerID) == "" {
		return fmt.Errorf("%w: action entry customer id is empty", contractx.ErrValidation)
	}
	if entry.Action == "" {
		return fmt.Errorf("%w: action entry action is empty", contractx.ErrValidation)
	}
	if entry.Timestamp.IsZero() {
		return fmt.Errorf("%w: action entry timestamp is zero", contractx.ErrValidation)
	}
	return nil
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Append(context.Context, contractx.ActionEntry) error { return nil }
