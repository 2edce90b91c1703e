package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/marker"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
	"github.com/MrSnakeDoc/switchboard/internal/version"
)

const seedYAML = `---
- Sensors:
    - beat:
        type: Heartbeat
        active: true
        associated: [sink]
        options:
          interval: 5s
    - sink:
        type: Heartbeat
        options:
          interval: 1m
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SWITCHBOARD_REDIS_ADDR", "")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestServicesImportAndList(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	regPath := filepath.Join(dir, "services.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o644))

	out, err := run(t, "services", "import", seedPath, "--registry", regPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 service(s)")

	out, err = run(t, "services", "import", seedPath, "--registry", regPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 service(s)")
	assert.Contains(t, out, "skipped existing: beat, sink")

	out, err = run(t, "services", "list", "--registry", regPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ORDER")
	assert.Regexp(t, `1\s+beat\s+Heartbeat\s+true\s+sink`, out)
	assert.Regexp(t, `2\s+sink\s+Heartbeat\s+false`, out)
}

func TestServicesListEmpty(t *testing.T) {
	regPath := filepath.Join(t.TempDir(), "services.json")

	out, err := run(t, "services", "list", "--registry", regPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no services in")
}

func TestServicesImportRejectsEmptySeed(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("---\n[]\n"), 0o644))

	_, err := run(t, "services", "import", seedPath, "--registry", filepath.Join(dir, "services.json"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestStatusReadsMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.tsv")
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := marker.Format(4242, []supervisor.HandleInfo{
		{Name: "beat", Type: domain.TypeHeartbeat, Started: started, Status: supervisor.StatusRunning},
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := run(t, "status", "--marker", path)
	require.NoError(t, err)
	assert.Regexp(t, `4242\s+beat\s+Heartbeat\s+.+\s+running`, out)
}

func TestStatusWithoutMarker(t *testing.T) {
	out, err := run(t, "status", "--marker", filepath.Join(t.TempDir(), "missing.tsv"))
	require.NoError(t, err)
	assert.Contains(t, out, "no active services")
}

func TestResolveWithoutRedis(t *testing.T) {
	out, err := run(t, "resolve", "t={beat.Message}C {raw}")
	require.NoError(t, err)
	assert.Equal(t, "t=C {raw}\n", out)
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "version", "--json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get(), info)
}
