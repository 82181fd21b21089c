package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/metrics"
)

// Config controls the HTTP facade.
type Config struct {
	Addr         string
	DefaultLimit int
	MaxLimit     int
}

// Server is the read-only HTTP facade over the time-series sink.
type Server struct {
	reader Reader
	cfg    Config
	http   *http.Server
}

// NewServer builds the facade and its routes.
func NewServer(cfg Config, reader Reader) *Server {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 1000
	}

	s := &Server{reader: reader, cfg: cfg}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/readings", s.handleReadings).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("query facade listening on %s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// parseRequest reads limit, device and time-range parameters.
func (s *Server) parseRequest(r *http.Request) (Request, error) {
	req := Request{Limit: s.cfg.DefaultLimit}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return req, fmt.Errorf("invalid limit %q", raw)
		}
		if limit > s.cfg.MaxLimit {
			limit = s.cfg.MaxLimit
		}
		req.Limit = limit
	}

	req.Device = r.URL.Query().Get("device")

	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, fmt.Errorf("invalid since %q: must be RFC3339", raw)
		}
		req.Since = t
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, fmt.Errorf("invalid until %q: must be RFC3339", raw)
		}
		req.Until = t
	}

	return req, nil
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	readings, err := s.reader.Latest(r.Context(), req)
	if err != nil {
		logger.Error("query failed: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("query failed"))
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		writeCSV(w, readings)
	case "", "json":
		writeJSON(w, readings)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", r.URL.Query().Get("format")))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, readings []Reading) {
	w.Header().Set("Content-Type", "application/json")
	if readings == nil {
		readings = []Reading{}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    len(readings),
		"readings": readings,
	})
}

// writeCSV emits one row per field, unpivoted, with deterministic field
// order inside each reading.
func writeCSV(w http.ResponseWriter, readings []Reading) {
	w.Header().Set("Content-Type", "text/csv")

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"time", "device_id", "variant", "partial", "field", "value"})

	for _, reading := range readings {
		fields := make([]string, 0, len(reading.Fields))
		for name := range reading.Fields {
			fields = append(fields, name)
		}
		sort.Strings(fields)

		for _, name := range fields {
			_ = cw.Write([]string{
				reading.Time.UTC().Format(time.RFC3339),
				reading.Device,
				reading.Variant,
				strconv.FormatBool(reading.Partial),
				name,
				fmt.Sprintf("%v", reading.Fields[name]),
			})
		}
	}
	cw.Flush()
}
