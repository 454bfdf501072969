package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
)

const lineTerminator = "\n"

// FileLedger keeps published URLs as newline-terminated lines in a plain text file.
// The whole file is read on every Contains; writes only ever append.
type FileLedger struct {
	filePath string
}

// NewFileLedger creates a ledger backed by filePath. The file is created on first Add.
func NewFileLedger(filePath string) *FileLedger {
	return &FileLedger{filePath: filePath}
}

// Path returns the backing file path.
func (fl *FileLedger) Path() string {
	return fl.filePath
}

// Contains reports whether url was recorded as a complete line.
func (fl *FileLedger) Contains(_ context.Context, url string) (bool, error) {
	data, err := fl.read()
	if err != nil {
		return false, err
	}

	entry := []byte(url + lineTerminator)
	if bytes.HasPrefix(data, entry) {
		return true, nil
	}
	return bytes.Contains(data, append([]byte(lineTerminator), entry...)), nil
}

// Add appends url and a line terminator, syncing before it returns.
func (fl *FileLedger) Add(_ context.Context, url string) error {
	f, err := os.OpenFile(fl.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, fl.filePath, err)
	}

	if _, err := f.WriteString(url + lineTerminator); err != nil {
		f.Close()
		return fmt.Errorf("%w: append %s: %v", ErrUnavailable, fl.filePath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync %s: %v", ErrUnavailable, fl.filePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrUnavailable, fl.filePath, err)
	}
	return nil
}

// Entries returns the recorded URLs in append order.
func (fl *FileLedger) Entries() ([]string, error) {
	data, err := fl.read()
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, line := range strings.SplitAfter(string(data), lineTerminator) {
		if !strings.HasSuffix(line, lineTerminator) {
			continue // unterminated tail is not a complete entry
		}
		entries = append(entries, strings.TrimSuffix(line, lineTerminator))
	}
	return entries, nil
}

// Scope returns a sibling ledger used to record posts to one destination.
func (fl *FileLedger) Scope(destination string) Ledger {
	return NewFileLedger(fl.filePath + "." + destination)
}

func (fl *FileLedger) read() ([]byte, error) {
	data, err := os.ReadFile(fl.filePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, fl.filePath, err)
	}
	return data, nil
}
