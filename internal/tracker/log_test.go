package tracker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsi-org/cachesync/internal/object"
)

func mutation(ident string, cmd Command) MutationRecord {
	payload := object.New("Endpoint", map[string]any{"id": ident})
	return MutationRecord{
		EntityType: "Endpoint",
		Ident:      ident,
		Command:    cmd,
		ObservedAt: time.Now().UTC(),
		Payload:    &payload,
	}
}

func TestLog_AppendAndRecords(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(mutation("e1", CommandInsert)))
	require.NoError(t, l.Append(mutation("e2", CommandDelete)))

	recs := l.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "e1", recs[0].Ident)
	assert.Equal(t, "e2", recs[1].Ident)
	assert.NotEmpty(t, recs[0].ID, "ids are assigned on append")

	// Records returns a copy.
	recs[0].Ident = "mutated"
	assert.Equal(t, "e1", l.Records()[0].Ident)
}

func TestLog_ClearDiscardsRecords(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(mutation("e1", CommandInsert)))
	require.NoError(t, l.Clear())
	assert.Zero(t, l.Len())
}

func TestJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	l, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(mutation("e1", CommandInsert)))
	require.NoError(t, l.Append(mutation("e2", CommandUpdate)))
	require.NoError(t, l.Close())

	reopened, err := OpenJournal(path)
	require.NoError(t, err)
	defer reopened.Close()

	recs := reopened.Records()
	require.Len(t, recs, 2, "a failed pass leaves the journal intact for retry")
	assert.Equal(t, "e1", recs[0].Ident)
	assert.Equal(t, CommandUpdate, recs[1].Command)
	require.NotNil(t, recs[1].Payload)
	assert.Equal(t, "e2", object.AttrString(*recs[1].Payload, "id"))
}

func TestJournal_ClearTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	l, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(mutation("e1", CommandInsert)))
	require.NoError(t, l.Clear())
	require.NoError(t, l.Append(mutation("e2", CommandInsert)))
	require.NoError(t, l.Close())

	reopened, err := OpenJournal(path)
	require.NoError(t, err)
	defer reopened.Close()

	recs := reopened.Records()
	require.Len(t, recs, 1, "clear truncates; later appends start fresh")
	assert.Equal(t, "e2", recs[0].Ident)
}

func TestJournal_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	l, err := OpenJournal(path)
	require.NoError(t, err)
	defer l.Close()
	assert.Zero(t, l.Len())
}
