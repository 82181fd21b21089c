// Package sink persists sealed commit records to the configured backends.
// Every backend write is idempotent, keyed by the record's idempotency key,
// so transport redelivery and writer retries never duplicate storage.
package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/record"
	"github.com/AlexRomero01/Bridge-Server/retry"
)

// Sink is one persistence backend.
type Sink interface {
	// Name identifies the sink in logs, metrics and commit results
	Name() string
	// Write upserts the commit record. A repeated Write with the same
	// idempotency key overwrites the stored copy.
	Write(ctx context.Context, rec record.CommitRecord) error
	// Close releases the backend connection
	Close(ctx context.Context) error
}

// SinkResult reports one sink's outcome for one commit.
type SinkResult struct {
	Sink string
	Err  error
}

// CommitResult is the composite outcome of committing one record. The two
// sink writes are independent: one failing does not roll back the other.
type CommitResult struct {
	Key     string
	Results []SinkResult
}

// Ok reports whether every sink accepted the record.
func (r CommitResult) Ok() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the names of the sinks that exhausted their retries.
func (r CommitResult) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if res.Err != nil {
			names = append(names, res.Sink)
		}
	}
	return names
}

func (r CommitResult) String() string {
	if r.Ok() {
		return fmt.Sprintf("commit %s: ok", r.Key)
	}
	return fmt.Sprintf("commit %s: failed sinks [%s]", r.Key, strings.Join(r.Failed(), ", "))
}

// Manager fans a commit out to all sinks with independent per-sink retry.
type Manager struct {
	sinks        []Sink
	retryCfg     retry.Config
	writeTimeout time.Duration
}

// NewManager creates a sink manager.
func NewManager(sinks []Sink, retryCfg retry.Config, writeTimeout time.Duration) *Manager {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Manager{
		sinks:        sinks,
		retryCfg:     retryCfg,
		writeTimeout: writeTimeout,
	}
}

// Commit writes the record to every sink concurrently and waits for each to
// succeed or exhaust its retries. There is no ordering requirement between
// sinks and no cross-sink atomicity: consistency between them is eventual.
func (m *Manager) Commit(ctx context.Context, rec record.CommitRecord) CommitResult {
	results := make([]SinkResult, len(m.sinks))

	var wg sync.WaitGroup
	for i, s := range m.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			results[i] = SinkResult{Sink: s.Name(), Err: m.writeOne(ctx, s, rec)}
		}(i, s)
	}
	wg.Wait()

	return CommitResult{Key: rec.Key, Results: results}
}

// writeOne retries a single sink write with bounded backoff. The write
// timeout bounds each attempt, not the whole loop; ctx bounds the loop.
func (m *Manager) writeOne(ctx context.Context, s Sink, rec record.CommitRecord) error {
	err := retry.Do(ctx, m.retryCfg, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
		defer cancel()
		return s.Write(attemptCtx, rec)
	})
	if err != nil {
		logger.Error("sink %s rejected %s: %v", s.Name(), rec.Key, err)
	}
	return err
}

// Close closes all sinks, logging failures instead of aborting.
func (m *Manager) Close(ctx context.Context) {
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			logger.Error("failed to close sink %s: %v", s.Name(), err)
		}
	}
}
