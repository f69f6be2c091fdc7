package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestWithComponentChainsLevelMethods(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("registry").Info().Str("module_id", "mod-1").Msg("Module registered")

	entry := captureJSON(t, &buf)
	assert.Equal(t, "registry", entry["component"])
	assert.Equal(t, "mod-1", entry["module_id"])
	assert.Equal(t, "Module registered", entry["message"])
}

func TestChildLoggersCarryTheirField(t *testing.T) {
	cases := []struct {
		name  string
		field string
		emit  func()
	}{
		{"module", "module_id", func() { WithModuleID("mod-9").Warn().Msg("slow") }},
		{"worker", "worker_dsn", func() { WithWorkerDSN("worker://a").Debug().Msg("acked") }},
		{"predicate", "predicate_id", func() { WithPredicateID("pred-3").Error().Msg("failed") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

			tc.emit()

			entry := captureJSON(t, &buf)
			assert.Contains(t, entry, tc.field)
		})
	}
}

func TestWithCycleBoundToLocal(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithCycle(42)
	logger.Info().Msg("Pulse emitted")

	entry := captureJSON(t, &buf)
	assert.Equal(t, float64(42), entry["cycle"])
}
