package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "escrow.log")
	logger, closeFn, err := Setup("escrowctl", Options{Env: "test", Level: "debug", File: file, MaxSizeMB: 1, Output: &buf})
	require.NoError(t, err)

	logger.Debug("escrow operation rejected", slog.String("reason", "unauthorized"))
	require.NoError(t, closeFn())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "escrowctl", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "escrow operation rejected", line["message"])
	require.Contains(t, line, "timestamp")

	written, err := os.ReadFile(file)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(written), "unauthorized"))
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger, _, err := Setup("escrowctl", Options{Level: "warn", Output: &buf})
	require.NoError(t, err)
	logger.Info("hidden")
	require.Zero(t, buf.Len())

	_, _, err = Setup("escrowctl", Options{Level: "verbose", Output: &buf})
	require.Error(t, err)
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://escrow:s3cret@db:5432/escrow?sslmode=disable": "postgres://escrow:xxxxx@db:5432/escrow?sslmode=disable",
		"postgresql://db/escrow?password=s3cret&sslmode=require":  "postgresql://db/escrow?password=xxxxx&sslmode=require",
		"postgres://escrow@db/escrow":                             "postgres://escrow@db/escrow",
		"host=db user=escrow password=s3cret dbname=escrow":       "host=db user=escrow password=xxxxx dbname=escrow",
		"/var/lib/escrow/escrow-index.db":                         "/var/lib/escrow/escrow-index.db",
		"":                                                        "",
	}
	for dsn, want := range cases {
		require.Equal(t, want, RedactDSN(dsn), dsn)
	}
	require.Equal(t, RedactedValue, RedactDSN("postgres://db:bad port/escrow"))

	attr := DSNField("dsn", "postgres://escrow:s3cret@db/escrow")
	require.Equal(t, "dsn", attr.Key)
	require.NotContains(t, attr.Value.String(), "s3cret")
}
