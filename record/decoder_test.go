package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		device  string
		variant Variant
		wantErr bool
	}{
		{name: "location", topic: "telemetry/rover-1/location", device: "rover-1", variant: VariantLocation},
		{name: "gps alias", topic: "telemetry/rover-1/gps", device: "rover-1", variant: VariantLocation},
		{name: "thermal", topic: "telemetry/rover-2/thermal", device: "rover-2", variant: VariantThermal},
		{name: "temperature alias", topic: "telemetry/rover-2/temperature", device: "rover-2", variant: VariantThermal},
		{name: "spectral", topic: "telemetry/drone-7/ndvi", device: "drone-7", variant: VariantSpectral},
		{name: "environmental", topic: "telemetry/weather-1/humidity", device: "weather-1", variant: VariantEnvironmental},
		{name: "transform", topic: "telemetry/rover-1/tf_position", device: "rover-1", variant: VariantTransform},
		{name: "plant", topic: "telemetry/rover-1/plant", device: "rover-1", variant: VariantPlant},
		{name: "case insensitive kind", topic: "telemetry/rover-1/Thermal", device: "rover-1", variant: VariantThermal},
		{name: "unknown kind", topic: "telemetry/rover-1/sonar", wantErr: true},
		{name: "wrong prefix", topic: "devices/rover-1/location", wantErr: true},
		{name: "too few segments", topic: "telemetry/location", wantErr: true},
		{name: "too many segments", topic: "telemetry/rover-1/location/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device, variant, err := ParseTopic(tt.topic)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.device, device)
			assert.Equal(t, tt.variant, variant)
		})
	}
}

func TestDecodeLocation(t *testing.T) {
	payload := []byte(`{"device_id":"rover-1","timestamp":1000,"latitude":41.3,"longitude":2.1,"altitude":120.5,"status":1,"service":1}`)

	rec, err := Decode("telemetry/rover-1/location", payload)
	require.NoError(t, err)

	assert.Equal(t, "rover-1", rec.Device)
	assert.Equal(t, VariantLocation, rec.Variant())
	assert.Equal(t, time.Unix(1000, 0).UTC(), rec.Timestamp)

	loc, ok := rec.Payload.(Location)
	require.True(t, ok)
	assert.Equal(t, 41.3, loc.Latitude)
	assert.Equal(t, 2.1, loc.Longitude)
	assert.Equal(t, 120.5, loc.Altitude)
	assert.Equal(t, 1, loc.FixStatus)
}

func TestDecodeThermal(t *testing.T) {
	payload := []byte(`{"timestamp":1000,"canopy_temperature":24.5,"cwsi":0.3,"ambient_temperature":21.0,"entity_count":12}`)

	rec, err := Decode("telemetry/rover-1/thermal", payload)
	require.NoError(t, err)

	th, ok := rec.Payload.(Thermal)
	require.True(t, ok)
	assert.Equal(t, 24.5, th.CanopyTemperature)
	assert.Equal(t, 0.3, th.CWSI)
	assert.Equal(t, 12, th.EntityCount)
}

func TestDecodeAllVariants(t *testing.T) {
	tests := []struct {
		topic   string
		payload string
		variant Variant
	}{
		{"telemetry/d-1/location", `{"timestamp":5,"latitude":1,"longitude":2}`, VariantLocation},
		{"telemetry/d-1/thermal", `{"timestamp":5,"canopy_temperature":20}`, VariantThermal},
		{"telemetry/d-1/spectral", `{"timestamp":5,"ndvi":0.7,"ir":120,"visible":80}`, VariantSpectral},
		{"telemetry/d-1/environmental", `{"timestamp":5,"relative_humidity":55,"dew_point":11}`, VariantEnvironmental},
		{"telemetry/d-1/transform", `{"timestamp":5,"x":1.5,"y":2.5,"z":0.1}`, VariantTransform},
		{"telemetry/d-1/plant", `{"timestamp":5,"biomass":130,"crop_type":"tomato","light_state":"day"}`, VariantPlant},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			rec, err := Decode(tt.topic, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.variant, rec.Variant())
			assert.Equal(t, "d-1", rec.Device)
		})
	}
}

func TestDecodeRejections(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		kind    DecodeErrorKind
	}{
		{"unknown topic", "telemetry/rover-1/sonar", `{"timestamp":1}`, UnknownTopic},
		{"not json", "telemetry/rover-1/location", `{{{{`, MalformedPayload},
		{"missing timestamp", "telemetry/rover-1/location", `{"latitude":1,"longitude":2}`, MalformedPayload},
		{"zero timestamp", "telemetry/rover-1/location", `{"timestamp":0,"latitude":1}`, MalformedPayload},
		{"negative timestamp", "telemetry/rover-1/location", `{"timestamp":-5,"latitude":1}`, MalformedPayload},
		{"device mismatch", "telemetry/rover-1/location", `{"device_id":"rover-2","timestamp":1,"latitude":1}`, MalformedPayload},
		{"type mismatch", "telemetry/rover-1/location", `{"timestamp":1,"latitude":"north"}`, MalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.topic, []byte(tt.payload))
			require.Error(t, err)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.kind, de.Kind)
		})
	}
}

func TestDecodeIsPure(t *testing.T) {
	payload := []byte(`{"timestamp":1000,"ndvi":0.5}`)

	first, err := Decode("telemetry/rover-1/spectral", payload)
	require.NoError(t, err)
	second, err := Decode("telemetry/rover-1/spectral", payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestIsUnknownTopic(t *testing.T) {
	_, err := Decode("telemetry/rover-1/sonar", []byte(`{}`))
	assert.True(t, IsUnknownTopic(err))

	_, err = Decode("telemetry/rover-1/location", []byte(`not json`))
	assert.False(t, IsUnknownTopic(err))
}
