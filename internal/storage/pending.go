package storage

import (
	"fmt"
	"os"
	"strings"
)

// PendingMarker records the URL whose publish is in flight. A marker that survives
// until the next cycle means the process died between publishing and recording.
type PendingMarker struct {
	filePath string
}

// NewPendingMarker stores the marker at filePath.
func NewPendingMarker(filePath string) *PendingMarker {
	return &PendingMarker{filePath: filePath}
}

// Mark replaces any previous marker with url.
func (pm *PendingMarker) Mark(url string) error {
	f, err := os.OpenFile(pm.filePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: pending marker: %v", ErrUnavailable, err)
	}
	if _, err := f.WriteString(url + lineTerminator); err != nil {
		f.Close()
		return fmt.Errorf("%w: pending marker: %v", ErrUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: pending marker: %v", ErrUnavailable, err)
	}
	return f.Close()
}

// Pending returns the marked URL, or "" when nothing is in flight.
func (pm *PendingMarker) Pending() (string, error) {
	data, err := os.ReadFile(pm.filePath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: pending marker: %v", ErrUnavailable, err)
	}
	return strings.TrimSuffix(string(data), lineTerminator), nil
}

// Clear removes the marker. Clearing an absent marker is not an error.
func (pm *PendingMarker) Clear() error {
	if err := os.Remove(pm.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: pending marker: %v", ErrUnavailable, err)
	}
	return nil
}
