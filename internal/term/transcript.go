package term

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// transcriptHeader is the asciinema v2 recording header.
type transcriptHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Transcript records a terminal's traffic in asciinema v2 JSON-Lines
// format, playable with `asciinema play`.
type Transcript struct {
	mu      sync.Mutex
	writer  io.Writer
	file    *os.File // set when we own the file
	started time.Time
}

// NewTranscript creates a transcript writing to path and emits the
// header for the given geometry.
func NewTranscript(path string, cols, rows int) (*Transcript, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create transcript: %w", err)
	}
	tr := &Transcript{writer: file, file: file, started: time.Now()}
	if err := tr.writeHeader(cols, rows); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return tr, nil
}

// newTranscriptWriter wraps an arbitrary writer, for tests.
func newTranscriptWriter(w io.Writer, cols, rows int) (*Transcript, error) {
	tr := &Transcript{writer: w, started: time.Now()}
	if err := tr.writeHeader(cols, rows); err != nil {
		return nil, err
	}
	return tr, nil
}

func (t *Transcript) writeHeader(cols, rows int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	header := transcriptHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: t.started.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal transcript header: %w", err)
	}
	_, err = fmt.Fprintf(t.writer, "%s\n", data)
	return err
}

// WriteOutput records bytes the process wrote to the terminal.
func (t *Transcript) WriteOutput(data []byte) error { return t.writeEvent("o", data) }

// WriteInput records bytes the client typed.
func (t *Transcript) WriteInput(data []byte) error { return t.writeEvent("i", data) }

// writeEvent appends one [offset, type, data] line.
func (t *Transcript) writeEvent(kind string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	offset := time.Since(t.started).Seconds()
	line, err := json.Marshal([]interface{}{offset, kind, string(data)})
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	_, err = fmt.Fprintf(t.writer, "%s\n", line)
	return err
}

// Close releases the underlying file, if owned.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}
