package tracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/opsi-org/cachesync/internal/object"
)

// Command is the kind of mutation a record captures.
type Command string

const (
	CommandInsert Command = "insert"
	CommandUpdate Command = "update"
	CommandDelete Command = "delete"
)

// MutationRecord captures one intercepted mutating call for one entity.
type MutationRecord struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	Ident      string         `json:"ident"`
	Command    Command        `json:"command"`
	ObservedAt time.Time      `json:"observedAt"`
	Payload    *object.Record `json:"payload,omitempty"`
}

// Log is the session's append-only mutation log. Records are appended in
// the intercepted call's program order and read once, by the
// reconciliation engine.
//
// The session model is single-writer (one active mutator at a time), so
// the log carries no internal locking.
//
// A log may be journaled to a JSON-lines file so a later process can
// reconcile this session's mutations: each append writes through, and
// only Clear truncates the journal.
type Log struct {
	records []MutationRecord
	journal *os.File
}

// NewLog returns an empty in-memory log.
func NewLog() *Log {
	return &Log{}
}

// OpenJournal opens (or creates) a journaled log at path, loading any
// records a previous session left behind.
func OpenJournal(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open mutation journal: %w", err)
	}
	l := &Log{journal: f}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec MutationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			f.Close()
			return nil, fmt.Errorf("load mutation journal: %w", err)
		}
		l.records = append(l.records, rec)
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("load mutation journal: %w", err)
	}
	return l, nil
}

// Append adds a record in program order, writing through to the journal
// when one is attached.
func (l *Log) Append(rec MutationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	l.records = append(l.records, rec)
	if l.journal == nil {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal mutation: %w", err)
	}
	if _, err := l.journal.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal mutation: %w", err)
	}
	return nil
}

// Records returns the log's contents in append order. The returned slice
// is a copy; appends after the call do not show through.
func (l *Log) Records() []MutationRecord {
	out := make([]MutationRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records in the log.
func (l *Log) Len() int {
	return len(l.records)
}

// Clear discards all records. Called only after a fully successful
// reconciliation pass; a failed pass leaves the log intact for retry.
func (l *Log) Clear() error {
	l.records = nil
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Truncate(0); err != nil {
		return fmt.Errorf("clear mutation journal: %w", err)
	}
	if _, err := l.journal.Seek(0, 0); err != nil {
		return fmt.Errorf("clear mutation journal: %w", err)
	}
	return nil
}

// Close releases the journal file, if any.
func (l *Log) Close() error {
	if l.journal == nil {
		return nil
	}
	return l.journal.Close()
}
