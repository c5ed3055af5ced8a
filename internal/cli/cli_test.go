package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/store"
	"github.com/opsi-org/cachesync/internal/tracker"
)

// execute runs the root command with args and captures its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// testEnv lays out sqlite stores, a journal and a config file in a temp
// directory, seeding the master store with one endpoint deployment.
type testEnv struct {
	dir        string
	configPath string
	master     string
	local      string
	snapshot   string
	journal    string
	metadata   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "cachesync.yaml"),
		master:     filepath.Join(dir, "master.db"),
		local:      filepath.Join(dir, "local.db"),
		snapshot:   filepath.Join(dir, "snapshot.db"),
		journal:    filepath.Join(dir, "journal.jsonl"),
		metadata:   filepath.Join(dir, "metadata"),
	}

	cfg := fmt.Sprintf(`
endpoint_id: e1
depot_id: d1
master:
  driver: sqlite
  path: %s
local:
  driver: sqlite
  path: %s
snapshot:
  driver: sqlite
  path: %s
journal_file: %s
metadata_file: %s
`, env.master, env.local, env.snapshot, env.journal, env.metadata)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))

	env.seedStore(t, env.master,
		object.New("Depot", map[string]any{"id": "d1"}),
		object.New("Endpoint", map[string]any{"id": "e1", "description": "workstation"}),
		object.New("Assignment", map[string]any{
			"productId": "p1", "endpointId": "e1", "requestedAction": "none",
		}),
	)
	return env
}

func (e *testEnv) seedStore(t *testing.T, path string, recs ...object.Record) {
	t.Helper()
	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	for _, rec := range recs {
		require.NoError(t, s.CreateObjects(context.Background(), rec.Type, []object.Record{rec}))
	}
}

func (e *testEnv) readStore(t *testing.T, path, typeName string) []object.Record {
	t.Helper()
	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.GetObjects(context.Background(), typeName, nil)
	require.NoError(t, err)
	return recs
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "status", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "status", "-c", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBootstrapCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "bootstrap", "-c", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "bootstrap complete for endpoint e1")

	endpoints := env.readStore(t, env.local, "Endpoint")
	require.Len(t, endpoints, 1)
	assert.Equal(t, "workstation", object.AttrString(endpoints[0], "description"))

	snapEndpoints := env.readStore(t, env.snapshot, "Endpoint")
	assert.Equal(t, endpoints, snapEndpoints, "snapshot mirrors the local store")
}

func TestBootstrapCommand_DiscardsStaleJournal(t *testing.T) {
	env := newTestEnv(t)

	// A leftover mutation from a previous session.
	payload := object.New("Endpoint", map[string]any{"id": "e1", "description": "stale"})
	mlog, err := tracker.OpenJournal(env.journal)
	require.NoError(t, err)
	require.NoError(t, mlog.Append(tracker.MutationRecord{
		EntityType: "Endpoint",
		Ident:      "e1",
		Command:    tracker.CommandUpdate,
		Payload:    &payload,
	}))
	require.NoError(t, mlog.Close())

	_, err = execute(t, "bootstrap", "-c", env.configPath)
	require.NoError(t, err)

	reopened, err := tracker.OpenJournal(env.journal)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Zero(t, reopened.Len(),
		"bootstrap starts a fresh session: un-reconciled mutations are discarded")
}

func TestReconcileCommand(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, "bootstrap", "-c", env.configPath)
	require.NoError(t, err)

	// Journal one local change against the bootstrapped baseline.
	payload := object.New("Endpoint", map[string]any{"id": "e1", "description": "renamed"})
	mlog, err := tracker.OpenJournal(env.journal)
	require.NoError(t, err)
	require.NoError(t, mlog.Append(tracker.MutationRecord{
		EntityType: "Endpoint",
		Ident:      "e1",
		Command:    tracker.CommandUpdate,
		Payload:    &payload,
	}))
	require.NoError(t, mlog.Close())

	out, err := execute(t, "reconcile", "-c", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "reconciled 1 type(s)")

	endpoints := env.readStore(t, env.master, "Endpoint")
	require.Len(t, endpoints, 1)
	assert.Equal(t, "renamed", object.AttrString(endpoints[0], "description"),
		"local change committed upstream")

	reopened, err := tracker.OpenJournal(env.journal)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Zero(t, reopened.Len(), "journal cleared after a full pass")
}

func TestReconcileCommand_RequiresJournal(t *testing.T) {
	env := newTestEnv(t)
	cfg, err := os.ReadFile(env.configPath)
	require.NoError(t, err)
	stripped := bytes.ReplaceAll(cfg, []byte("journal_file: "+env.journal+"\n"), nil)
	require.NoError(t, os.WriteFile(env.configPath, stripped, 0o644))

	_, err = execute(t, "reconcile", "-c", env.configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal_file")
}

func TestStatusCommand_JSON(t *testing.T) {
	env := newTestEnv(t)

	payload := object.New("Endpoint", map[string]any{"id": "e1"})
	mlog, err := tracker.OpenJournal(env.journal)
	require.NoError(t, err)
	require.NoError(t, mlog.Append(tracker.MutationRecord{
		EntityType: "Endpoint", Ident: "e1",
		Command: tracker.CommandUpdate, Payload: &payload,
	}))
	require.NoError(t, mlog.Close())
	require.NoError(t, os.WriteFile(env.metadata, []byte("vpn = yes\n"), 0o600))

	out, err := execute(t, "status", "-c", env.configPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			PendingMutations int               `json:"pendingMutations"`
			Metadata         map[string]string `json:"metadata"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.PendingMutations)
	assert.Equal(t, "yes", resp.Data.Metadata["vpn"])
}

func TestStatusCommand_NoSessionFiles(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "status", "-c", env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pending mutations: 0")
}
