// Package archiver writes the metadata sidecar files of the log
// archiving pipeline. Every archived slot file <slot> gets a companion
// <slot>_md holding one line per archived event and one line per
// acknowledgement, which is what crash recovery replays to find out
// what made it to disk.
package archiver

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fjordlabs/berth/logevent"
)

// MetadataSuffix is appended to a slot file's path to name its
// metadata file.
const MetadataSuffix = "_md"

// DefaultMaxOpenFiles bounds how many metadata files stay open at
// once.
const DefaultMaxOpenFiles = 5

// WriteReport says where in a slot file an event was archived.
type WriteReport struct {
	// SlotPath is the slot file the event went into.
	SlotPath string
	// WriteCount is how many times the event has been written.
	WriteCount int64
	// StartOffset and EndOffset delimit the event's bytes in the slot
	// file.
	StartOffset int64
	EndOffset   int64
}

// Options configure a MetadataWriter.
type Options struct {
	// MaxOpenFiles bounds the open metadata files; the least recently
	// used file is flushed and closed when the bound is hit. Default
	// DefaultMaxOpenFiles.
	MaxOpenFiles int
	// Logger receives dropped-event and write-failure notices. Nil
	// logs nothing.
	Logger *zerolog.Logger
}

// MetadataWriter appends metadata entries for archived events. Entries
// are flushed to the OS as they are written; Flush and Close exist for
// the file handles, not for buffered data. Safe for concurrent use.
type MetadataWriter struct {
	mu    sync.Mutex
	limit int
	log   zerolog.Logger

	// Open files in least-recently-used order, oldest first.
	order   []string
	handles map[string]*handle
}

type handle struct {
	f *os.File
}

// NewMetadataWriter returns a writer with the given options.
func NewMetadataWriter(opts Options) *MetadataWriter {
	limit := opts.MaxOpenFiles
	if limit <= 0 {
		limit = DefaultMaxOpenFiles
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &MetadataWriter{
		limit:   limit,
		log:     log,
		handles: map[string]*handle{},
	}
}

// Write records where an event landed. Events without an ID cannot be
// tracked and are dropped with a log line; best-effort senders are
// allowed to omit the ID, so this is not an error.
func (m *MetadataWriter) Write(ev *logevent.Event, report WriteReport) {
	if ev == nil || report.SlotPath == "" {
		return
	}
	if ev.ID == "" {
		m.log.Debug().
			Str("slot", report.SlotPath).
			Msg("event without id not recorded in metadata")
		return
	}
	line := fmt.Sprintf("%s,%d,%d,%d\n", ev.ID, report.WriteCount, report.StartOffset, report.EndOffset)
	m.append(report.SlotPath, line)
}

// WriteAck records that the event with the given ID was acknowledged.
func (m *MetadataWriter) WriteAck(slotPath, id string) {
	if slotPath == "" || id == "" {
		return
	}
	m.append(slotPath, fmt.Sprintf("ack,%s\n", id))
}

func (m *MetadataWriter) append(slotPath, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, err := m.writerLocked(slotPath)
	if err != nil {
		m.log.Warn().Err(err).Str("slot", slotPath).Msg("metadata file not writable")
		return
	}
	if _, err := h.f.WriteString(line); err != nil {
		m.log.Warn().Err(err).Str("slot", slotPath).Msg("metadata entry not written")
	}
}

// writerLocked returns the open file for slotPath's metadata, opening
// it and evicting the least recently used file if needed.
func (m *MetadataWriter) writerLocked(slotPath string) (*handle, error) {
	if h, ok := m.handles[slotPath]; ok {
		m.touchLocked(slotPath)
		return h, nil
	}
	for len(m.handles) >= m.limit {
		oldest := m.order[0]
		m.order = m.order[1:]
		h := m.handles[oldest]
		delete(m.handles, oldest)
		if err := h.f.Close(); err != nil {
			m.log.Warn().Err(err).Str("slot", oldest).Msg("evicted metadata file failed to close")
		}
	}
	f, err := os.OpenFile(slotPath+MetadataSuffix, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	h := &handle{f: f}
	m.handles[slotPath] = h
	m.order = append(m.order, slotPath)
	return h, nil
}

func (m *MetadataWriter) touchLocked(slotPath string) {
	for i, p := range m.order {
		if p == slotPath {
			m.order = append(m.order[:i], m.order[i+1:]...)
			m.order = append(m.order, slotPath)
			return
		}
	}
}

// Flush syncs every open metadata file to disk.
func (m *MetadataWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for path, h := range m.handles {
		if err := h.f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", path+MetadataSuffix, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every open metadata file. The writer stays
// usable; files reopen on the next write.
func (m *MetadataWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for path, h := range m.handles {
		if err := h.f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", path+MetadataSuffix, err))
		}
		if err := h.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path+MetadataSuffix, err))
		}
	}
	m.handles = map[string]*handle{}
	m.order = nil
	return errors.Join(errs...)
}
