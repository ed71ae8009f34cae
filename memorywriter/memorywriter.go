package memorywriter

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryWriter keeps a detailed log in memory instead of on disk. Lines
// rotate once the buffer is full, but the first startCount lines are
// pinned, so a long-running daemon keeps its startup trace. The status
// page exports the whole thing on demand.

// hard cap per line, to bound memory on a runaway caller
const maxLineLength = 500

type MemoryWriter struct {
	mutex sync.Mutex

	maxLineCount int
	lines        [][]byte // rotating tail, lines include newlines

	startCount int
	startLines [][]byte // pinned head

	startTime time.Time
	stampTime bool
}

func New(size, startSize int, stampTime bool) *MemoryWriter {
	return &MemoryWriter{
		maxLineCount: size,
		lines:        make([][]byte, 0, size),
		startCount:   startSize,
		startLines:   make([][]byte, 0, startSize),
		startTime:    time.Now(),
		stampTime:    stampTime,
	}
}

func (m *MemoryWriter) Log(s string) {
	_, err := m.Write([]byte(s + "\n"))
	if err != nil {
		// give up, just print on stdout
		fmt.Println(err)
	}
}

func (m *MemoryWriter) Write(p []byte) (int, error) {
	if len(p) > maxLineLength {
		return 0, errors.New("input too long")
	}

	var line []byte
	if m.stampTime {
		now := time.Now()
		elapsed := now.Sub(m.startTime)
		line = []byte(fmt.Sprintf("[%.6f : %s] %s", elapsed.Seconds(), now.Format("15:04:05"), string(p)))
	} else {
		line = make([]byte, len(p))
		copy(line, p)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.startLines) < m.startCount {
		m.startLines = append(m.startLines, line)
	} else {
		for len(m.lines) >= m.maxLineCount {
			m.lines = m.lines[1:]
		}
		m.lines = append(m.lines, line)
	}
	return len(p), nil
}

// writeTo exports the log latest-first, with the pinned startup lines
// after a separator, prefixed by the given header text.
func (m *MemoryWriter) writeTo(header string, w io.Writer) error {
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := len(m.lines) - 1; i >= 0; i-- {
		if _, err := w.Write(m.lines[i]); err != nil {
			return err
		}
	}

	if _, err := w.Write([]byte("...\n")); err != nil {
		return err
	}

	for i := len(m.startLines) - 1; i >= 0; i-- {
		if _, err := w.Write(m.startLines[i]); err != nil {
			return err
		}
	}

	return nil
}

// Gzip exports the log compressed, for the log download endpoint.
func (m *MemoryWriter) Gzip(header string) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	gw.Name = "log.txt"

	if err := m.writeTo(header, gw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
