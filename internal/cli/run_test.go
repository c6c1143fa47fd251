package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var listeningRe = regexp.MustCompile(`Agent listening on (\S+)`)

func TestRunMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunInvalidConfig(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "exposure:\n  cap: 0\n")

	_, _, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cap")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunRejectsArgs(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")

	_, _, err := execute(t, "run", "--config", cfgPath, "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRunServesUntilCancelled(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, dbPath := writeConfig(t, backend.URL(), "")

	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--config", cfgPath, "--listen", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	var addr string
	require.Eventually(t, func() bool {
		m := listeningRe.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	}, 5*time.Second, 10*time.Millisecond, "agent never reported its address")

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database should be created")
	assert.Contains(t, out.String(), "Press Ctrl-C to stop.")
}

func TestRunListenAddressInUse(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")

	// Occupy a port first.
	first := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCommand()
	cmd.SetOut(first)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--config", cfgPath, "--listen", "127.0.0.1:0"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		m := listeningRe.FindStringSubmatch(first.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	}, 5*time.Second, 10*time.Millisecond)

	otherCfg, _ := writeConfig(t, unreachableURL, "")
	_, _, err := execute(t, "run", "--config", otherCfg, "--listen", addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestRunHelpText(t *testing.T) {
	out, _, err := execute(t, "run", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "Start the register agent")
	assert.Contains(t, out, "--listen")
	assert.Contains(t, out, "--db")
}
