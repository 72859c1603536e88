package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelwatch/panelwatch/agent/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCommand_Check(t *testing.T) {
	path := writeConfig(t, `
targets:
  - name: health
    type: http
    base_url: "http://127.0.0.1:1"
`)
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out

	require.NoError(t, cmd.Run(context.Background(), []string{name, "--config", path, "--check"}))
	assert.Contains(t, out.String(), "ok (1 targets)")
}

func TestCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
targets:
  - name: dup
    type: http
    base_url: "http://a:1"
  - name: dup
    type: http
    base_url: "http://b:1"
`)
	cmd := newCommand()
	cmd.Writer = io.Discard
	err := cmd.Run(context.Background(), []string{name, "--config", path, "--check"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"dup"`)
}

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{Listen: ":8000", LogLevel: "info"}
	require.NoError(t, applyOverrides(cfg, "127.0.0.1:9999", "debug"))
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)

	require.Error(t, applyOverrides(cfg, "", "loud"))
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

// End to end: one healthy http target and one that refuses connections,
// served through the real scheduler, store and HTTP handler.
func TestRun_ServesScrapesAndShutsDown(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	cfg, err := config.Parse([]byte(`
namespace: pwtest
shutdown_timeout: 2s
targets:
  - name: healthy
    type: http
    base_url: "` + target.URL + `"
    poll_interval: 200ms
    timeout: 100ms
  - name: refused
    type: http
    base_url: "http://127.0.0.1:1"
    poll_interval: 200ms
    timeout: 100ms
`))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, "", ln, logger) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return strings.Contains(body, `pwtest_target_up{target="healthy"} 1`) &&
			strings.Contains(body, `pwtest_target_up{target="refused"} 0`) &&
			strings.Contains(body, `pwtest_target_failure_reason{reason="unreachable",target="refused"} 1`)
	}, 5*time.Second, 50*time.Millisecond, "last scrape:\n%s", body)

	resp, err := http.Get(base + "/metrics/agent")
	require.NoError(t, err)
	agentBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(agentBody), "panelwatch_agent_probe_attempts_total")
	assert.Contains(t, string(agentBody), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
