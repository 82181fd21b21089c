package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves canned readings and records the request it got.
type fakeReader struct {
	readings []Reading
	err      error
	lastReq  Request
}

func (f *fakeReader) Latest(_ context.Context, req Request) ([]Reading, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if req.Limit < len(f.readings) {
		return f.readings[:req.Limit], nil
	}
	return f.readings, nil
}

func sampleReadings(n int) []Reading {
	out := make([]Reading, n)
	for i := range out {
		// Newest first, like the real reader returns them.
		out[i] = Reading{
			Time:    time.Unix(int64(2000-i), 0).UTC(),
			Device:  "rover-1",
			Variant: "location",
			Fields:  map[string]interface{}{"latitude": 41.3, "longitude": 2.1},
		}
	}
	return out
}

func serve(t *testing.T, reader Reader, target string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(Config{DefaultLimit: 10, MaxLimit: 100}, reader)
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

type readingsResponse struct {
	Count    int       `json:"count"`
	Readings []Reading `json:"readings"`
}

func TestReadingsDefaultLimitNewestFirst(t *testing.T) {
	reader := &fakeReader{readings: sampleReadings(25)}
	rr := serve(t, reader, "/api/v1/readings")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, 10, reader.lastReq.Limit)

	var resp readingsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Count)
	require.Len(t, resp.Readings, 10)
	assert.True(t, resp.Readings[0].Time.After(resp.Readings[9].Time))
	assert.Equal(t, "rover-1", resp.Readings[0].Device)
	assert.Equal(t, 41.3, resp.Readings[0].Fields["latitude"])
}

func TestReadingsExplicitLimitAndFilters(t *testing.T) {
	reader := &fakeReader{readings: sampleReadings(5)}
	rr := serve(t, reader,
		"/api/v1/readings?limit=3&device=rover-1&since=2026-01-01T00:00:00Z&until=2026-01-02T00:00:00Z")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, reader.lastReq.Limit)
	assert.Equal(t, "rover-1", reader.lastReq.Device)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), reader.lastReq.Since)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), reader.lastReq.Until)
}

func TestReadingsLimitClampedToMax(t *testing.T) {
	reader := &fakeReader{}
	rr := serve(t, reader, "/api/v1/readings?limit=5000")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 100, reader.lastReq.Limit)
}

func TestReadingsEmptyResultIsEmptyArray(t *testing.T) {
	rr := serve(t, &fakeReader{}, "/api/v1/readings")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":0,"readings":[]}`, rr.Body.String())
}

func TestReadingsBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"non-numeric limit", "/api/v1/readings?limit=ten"},
		{"zero limit", "/api/v1/readings?limit=0"},
		{"negative limit", "/api/v1/readings?limit=-5"},
		{"bad since", "/api/v1/readings?since=yesterday"},
		{"bad until", "/api/v1/readings?until=13/01/2026"},
		{"bad format", "/api/v1/readings?format=xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, &fakeReader{}, tt.target)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReadingsReaderFailure(t *testing.T) {
	rr := serve(t, &fakeReader{err: errors.New("bucket unreachable")}, "/api/v1/readings")

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	// Backend details stay out of the response.
	assert.NotContains(t, rr.Body.String(), "bucket unreachable")
}

func TestReadingsCSV(t *testing.T) {
	reader := &fakeReader{readings: []Reading{{
		Time:    time.Unix(2000, 0).UTC(),
		Device:  "rover-1",
		Variant: "location",
		Partial: true,
		Fields:  map[string]interface{}{"longitude": 2.1, "latitude": 41.3},
	}}}
	rr := serve(t, reader, "/api/v1/readings?format=csv")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,device_id,variant,partial,field,value", lines[0])
	// Fields come out alphabetically.
	assert.Equal(t, "1970-01-01T00:33:20Z,rover-1,location,true,latitude,41.3", lines[1])
	assert.Equal(t, "1970-01-01T00:33:20Z,rover-1,location,true,longitude,2.1", lines[2])
}

func TestHealth(t *testing.T) {
	rr := serve(t, &fakeReader{}, "/health")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestReadingsRejectsNonGet(t *testing.T) {
	s := NewServer(Config{}, &fakeReader{})
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/readings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
