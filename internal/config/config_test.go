package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{
		"server": {"listen_addr": "127.0.0.1:9999"},
		"session": {"countdown_timeout": "2s"},
		"logging": {"debug_mode": true, "categories": {"bus": true}}
	}`)

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Session.CountdownTimeout.Std())
	assert.True(t, cfg.Logging.DebugMode)
	assert.True(t, cfg.Logging.Categories["bus"])

	// Everything the file omitted keeps its default.
	def := DefaultConfig()
	assert.Equal(t, def.Session.FinalizeTimeout, cfg.Session.FinalizeTimeout)
	assert.Equal(t, def.Media.ChunkInterval, cfg.Media.ChunkInterval)
	assert.Equal(t, def.Storage.ProjectDir, cfg.Storage.ProjectDir)
}

func TestLoadNormalizesDegenerateValues(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{
		"session": {"countdown_timeout": "0s", "ready_max_attempts": -1},
		"media": {"desktop_viewport_w": 0}
	}`)

	cfg, err := Load(ws)
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.Session.CountdownTimeout, cfg.Session.CountdownTimeout)
	assert.Equal(t, def.Session.ReadyMaxAttempts, cfg.Session.ReadyMaxAttempts)
	assert.Equal(t, def.Media.DesktopViewportW, cfg.Media.DesktopViewportW)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{"server": `)

	_, err := Load(ws)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := DefaultConfig()
	cfg.Server.ListenAddr = "127.0.0.1:4242"
	cfg.Agent.CountdownFrom = 5
	cfg.Logging.DebugMode = true

	require.NoError(t, cfg.Save(ws))
	loaded, err := Load(ws)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"duration string", `"250ms"`, 250 * time.Millisecond, false},
		{"compound string", `"1m30s"`, 90 * time.Second, false},
		{"nanosecond number", `5000000000`, 5 * time.Second, false},
		{"garbage string", `"fast"`, 0, true},
		{"wrong type", `true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
}

func TestDurationMarshalsAsString(t *testing.T) {
	out, err := json.Marshal(Duration(250 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"250ms"`, string(out))
}

func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	rel := filepath.Join(".recordio", "session.db")
	assert.Equal(t, filepath.Join("/ws", rel), cfg.ResolvePath("/ws", rel))
	assert.Equal(t, "/var/db/sessions.db", cfg.ResolvePath("/ws", "/var/db/sessions.db"))
}

func writeConfig(t *testing.T, workspace, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".recordio"), 0755))
	require.NoError(t, os.WriteFile(Path(workspace), []byte(body), 0644))
}
