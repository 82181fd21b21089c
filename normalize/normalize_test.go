package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const renameScript = `
function normalize(payload) {
	var data = parseJSON(payload);
	if (data.temp !== undefined) {
		data.canopy_temp = data.temp;
		delete data.temp;
	}
	return JSON.stringify(data);
}
`

func TestApplyRewritesPayload(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: renameScript},
	})
	require.NoError(t, err)

	out, applied, err := m.Apply("telemetry/rover-1/thermal", []byte(`{"device_id":"rover-1","temp":24.5}`))
	require.NoError(t, err)
	assert.True(t, applied)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &data))
	assert.Equal(t, 24.5, data["canopy_temp"])
	assert.NotContains(t, data, "temp")
	assert.Equal(t, "rover-1", data["device_id"])
}

func TestApplyPassesThroughUnconfiguredKind(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: renameScript},
	})
	require.NoError(t, err)

	in := []byte(`{"device_id":"rover-1","lat":41.3}`)
	out, applied, err := m.Apply("telemetry/rover-1/location", in)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, in, out)
}

func TestApplyMarshalsObjectResult(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: `function normalize(payload) { return parseJSON(payload); }`},
	})
	require.NoError(t, err)

	out, applied, err := m.Apply("telemetry/rover-1/thermal", []byte(`{"canopy_temp":24.5}`))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.JSONEq(t, `{"canopy_temp":24.5}`, string(out))
}

func TestApplyConvertTemperatureHelper(t *testing.T) {
	script := `
function normalize(payload) {
	var data = parseJSON(payload);
	data.canopy_temp = convertTemperature(data.canopy_temp_f, "F", "C");
	delete data.canopy_temp_f;
	return JSON.stringify(data);
}
`
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: script},
	})
	require.NoError(t, err)

	out, _, err := m.Apply("telemetry/rover-1/thermal", []byte(`{"canopy_temp_f":212}`))
	require.NoError(t, err)

	var data map[string]float64
	require.NoError(t, json.Unmarshal(out, &data))
	assert.InDelta(t, 100.0, data["canopy_temp"], 0.001)
}

func TestApplyScriptErrorIsReported(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: `function normalize(payload) { throw new Error("bad payload"); }`},
	})
	require.NoError(t, err)

	_, applied, err := m.Apply("telemetry/rover-1/thermal", []byte(`{}`))
	assert.True(t, applied)
	assert.ErrorContains(t, err, "bad payload")
}

func TestNewManagerRejectsScriptWithoutNormalize(t *testing.T) {
	_, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: `var x = 1;`},
	})
	assert.ErrorContains(t, err, "normalize")
}

func TestNewManagerRejectsEmptyConfig(t *testing.T) {
	_, err := NewManager(map[string]ScriptConfig{
		"thermal": {},
	})
	assert.Error(t, err)
}

func TestReplaceAllSwapsAdapters(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: renameScript},
	})
	require.NoError(t, err)

	// Replace with an identity adapter.
	require.NoError(t, m.ReplaceAll(map[string]ScriptConfig{
		"thermal": {ScriptCode: `function normalize(payload) { return payload; }`},
	}))
	in := []byte(`{"temp":24.5}`)
	out, applied, err := m.Apply("telemetry/rover-1/thermal", in)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, in, out)
}

func TestReplaceAllRemovesDroppedKinds(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: renameScript},
	})
	require.NoError(t, err)

	// The kind disappeared from the config entirely.
	require.NoError(t, m.ReplaceAll(nil))
	in := []byte(`{"temp":24.5}`)
	out, applied, err := m.Apply("telemetry/rover-1/thermal", in)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, in, out)
}

func TestReplaceAllTreatsEmptyEntryAsRemoved(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: renameScript},
	})
	require.NoError(t, err)

	require.NoError(t, m.ReplaceAll(map[string]ScriptConfig{"thermal": {}}))
	_, applied, err := m.Apply("telemetry/rover-1/thermal", []byte(`{"temp":24.5}`))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestReplaceAllBrokenScriptKeepsCurrentSet(t *testing.T) {
	m, err := NewManager(map[string]ScriptConfig{
		"thermal": {ScriptCode: renameScript},
	})
	require.NoError(t, err)

	assert.Error(t, m.ReplaceAll(map[string]ScriptConfig{
		"thermal":  {ScriptCode: renameScript},
		"spectral": {ScriptCode: `syntax error(`},
	}))

	// The existing adapter still runs.
	_, applied, err := m.Apply("telemetry/rover-1/thermal", []byte(`{"temp":24.5}`))
	require.NoError(t, err)
	assert.True(t, applied)
	_, applied, _ = m.Apply("telemetry/rover-1/spectral", []byte(`{}`))
	assert.False(t, applied)
}
