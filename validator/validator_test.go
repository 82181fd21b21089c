package validator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AlexRomero01/Bridge-Server/record"
)

func rec(payload record.Payload) record.Record {
	return record.Record{
		Device:    "rover-1",
		Timestamp: time.Unix(1000, 0),
		Payload:   payload,
	}
}

func TestValidateRecordAcceptsPlausibleReadings(t *testing.T) {
	tests := []struct {
		name    string
		payload record.Payload
	}{
		{"location", record.Location{Latitude: 41.3, Longitude: 2.1, Altitude: 120}},
		{"thermal", record.Thermal{CanopyTemperature: 24.5, AmbientTemperature: 21}},
		{"spectral", record.Spectral{NDVI: 0.7, NDVI3D: -0.2}},
		{"environmental", record.Environmental{RelativeHumidity: 55, DewPoint: 11}},
		{"transform", record.Transform{X: 1e9, Y: -1e9, Z: 0}},
		{"plant", record.Plant{Biomass: 130, Area: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, ValidateRecord(rec(tt.payload)))
		})
	}
}

func TestValidateRecordRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		payload record.Payload
	}{
		{"latitude too big", record.Location{Latitude: 91}},
		{"longitude too small", record.Location{Longitude: -181}},
		{"canopy below bound", record.Thermal{CanopyTemperature: -61}},
		{"ndvi above one", record.Spectral{NDVI: 1.5}},
		{"humidity above hundred", record.Environmental{RelativeHumidity: 101}},
		{"negative biomass", record.Plant{Biomass: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateRecord(rec(tt.payload)))
		})
	}
}

func TestRangeValidator(t *testing.T) {
	v := &RangeValidator{Field: "NDVI", Min: -1, Max: 1}

	assert.NoError(t, v.Validate(record.Spectral{NDVI: 0}))
	assert.NoError(t, v.Validate(&record.Spectral{NDVI: 1}))
	assert.Error(t, v.Validate(record.Spectral{NDVI: 2}))
	assert.Error(t, v.Validate("not a struct"))

	missing := &RangeValidator{Field: "Nope", Min: 0, Max: 1}
	assert.Error(t, missing.Validate(record.Spectral{}))
}

func TestValidateRecordRejectsNonFiniteSamples(t *testing.T) {
	tests := []struct {
		name    string
		payload record.Payload
	}{
		{"nan latitude", record.Location{Latitude: math.NaN()}},
		{"nan canopy", record.Thermal{CanopyTemperature: math.NaN()}},
		{"positive inf humidity", record.Environmental{RelativeHumidity: math.Inf(1)}},
		{"negative inf ndvi", record.Spectral{NDVI: math.Inf(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateRecord(rec(tt.payload)))
		})
	}
}
