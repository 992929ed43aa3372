package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Environment: "production", ServiceName: "requisitions", Version: "1.2.3", Output: &buf})

	log.Component("workflow").Debug().Str("requisition_id", "r1").Msg("item approved")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "requisitions", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "workflow", entry["component"])
	assert.Equal(t, "r1", entry["requisition_id"])
	assert.Equal(t, "item approved", entry["message"])
}

func TestNew_DefaultLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
