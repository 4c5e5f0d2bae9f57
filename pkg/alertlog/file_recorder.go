package alertlog

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FileRecorder writes security events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileRecorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileRecorder creates a FileRecorder appending to path. The file is
// created with permissions 0644 if it doesn't exist.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileRecorder{
		file:    f,
		encoder: mode.NewEncoder(f),
	}, nil
}

// Record writes an event to the capture file.
// Encoding errors are ignored; capture must not disrupt the broker.
func (r *FileRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = r.encoder.Encode(event)
}

// Close closes the capture file. Safe to call multiple times; subsequent
// Record calls are silently ignored.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Compile-time interface satisfaction check.
var _ Recorder = (*FileRecorder)(nil)
