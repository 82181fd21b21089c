// Package window assembles records that belong to the same reading instant
// and device but arrive as separate messages. Entries are keyed by
// (device, epoch) where the epoch is the timestamp bucketed to a fixed
// resolution, which absorbs clock and transport jitter between co-temporal
// messages of different variants.
package window

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/record"
)

const numShards = 16

// SealFunc receives entries sealed asynchronously: window timeouts,
// evictions and shutdown drains. Entries completed synchronously during
// Ingest are returned from Ingest instead.
type SealFunc func(record.CommitRecord)

// Config controls bucketing and sealing.
type Config struct {
	// Resolution buckets record timestamps into reading epochs
	Resolution time.Duration
	// Timeout seals an entry with whatever it has accumulated
	Timeout time.Duration
	// MaxOpen bounds the number of simultaneously open entries
	MaxOpen int
	// DedupFor is how long a completed key keeps rejecting redelivered
	// records. Without it a straggling duplicate reopens the key and its
	// timeout seal downgrades the durable complete commit to a partial one.
	DedupFor time.Duration
	// Expected maps a device class to the variant set that completes an
	// entry. A class with no expected set seals on the first record.
	Expected map[string][]record.Variant
}

// Window owns all open aggregate entries. Different keys may be ingested
// concurrently; same-key ingestion is serialized per shard.
type Window struct {
	resolution  time.Duration
	timeout     time.Duration
	maxPerShard int
	dedupFor    time.Duration
	onSealed    SealFunc

	expectedMu sync.RWMutex
	expected   map[string]map[record.Variant]bool

	shards [numShards]shard

	closedMu sync.RWMutex
	closed   bool
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	// committed remembers keys that sealed complete, so records redelivered
	// after the seal are dropped instead of opening a doomed fresh entry.
	committed map[string]time.Time
}

type entry struct {
	device   string
	epoch    time.Time
	created  time.Time
	expected map[record.Variant]bool
	records  map[record.Variant]record.Record
	timer    *time.Timer
}

// complete reports whether every expected variant has arrived. An entry
// with no expected set is complete as soon as it holds one record.
func (e *entry) complete() bool {
	if len(e.expected) == 0 {
		return len(e.records) > 0
	}
	for v := range e.expected {
		if _, ok := e.records[v]; !ok {
			return false
		}
	}
	return true
}

// New creates a window. onSealed must be non-blocking or bounded: it runs
// on timer goroutines and inside Ingest's caller.
func New(cfg Config, onSealed SealFunc) *Window {
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 1024
	}
	if cfg.DedupFor <= 0 {
		cfg.DedupFor = 30 * time.Second
	}
	perShard := cfg.MaxOpen / numShards
	if perShard < 1 {
		perShard = 1
	}

	w := &Window{
		resolution:  cfg.Resolution,
		timeout:     cfg.Timeout,
		maxPerShard: perShard,
		dedupFor:    cfg.DedupFor,
		onSealed:    onSealed,
	}
	w.setExpected(cfg.Expected)
	for i := range w.shards {
		w.shards[i].entries = make(map[string]*entry)
		w.shards[i].committed = make(map[string]time.Time)
	}
	return w
}

// SetExpected replaces the per-class expected variant sets. Entries already
// open keep the set they were created with.
func (w *Window) SetExpected(expected map[string][]record.Variant) {
	w.setExpected(expected)
}

func (w *Window) setExpected(expected map[string][]record.Variant) {
	byClass := make(map[string]map[record.Variant]bool, len(expected))
	for class, variants := range expected {
		set := make(map[record.Variant]bool, len(variants))
		for _, v := range variants {
			if record.Known(v) {
				set[v] = true
			} else {
				logger.Warn("ignoring unknown expected variant %q for class %q", v, class)
			}
		}
		byClass[class] = set
	}
	w.expectedMu.Lock()
	w.expected = byClass
	w.expectedMu.Unlock()
}

// ClassOf derives the device class from a device identity: the part before
// the trailing instance suffix, so "rover-1" and "rover-2" share the
// expected set of class "rover".
func ClassOf(device string) string {
	if i := strings.LastIndex(device, "-"); i > 0 {
		return device[:i]
	}
	return device
}

func (w *Window) expectedFor(device string) map[record.Variant]bool {
	w.expectedMu.RLock()
	defer w.expectedMu.RUnlock()
	return w.expected[ClassOf(device)]
}

func (w *Window) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &w.shards[h.Sum32()%numShards]
}

// Ingest merges a record into its aggregate entry. It returns a sealed
// commit record when this record completes the entry, and nil while the
// entry stays open. Redelivered duplicates overwrite the variant they carry
// (last writer wins) while the entry is open, and are dropped once the key
// sealed complete; anything older than the dedup horizon is absorbed by the
// sinks' merging upserts.
func (w *Window) Ingest(rec record.Record) *record.CommitRecord {
	w.closedMu.RLock()
	defer w.closedMu.RUnlock()
	if w.closed {
		return nil
	}

	epoch := rec.Timestamp.Truncate(w.resolution)
	key := record.IdempotencyKey(rec.Device, epoch)
	s := w.shardFor(key)

	var evicted *record.CommitRecord
	var sealed *record.CommitRecord

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		if sealedAt, done := s.committed[key]; done {
			if time.Since(sealedAt) < w.dedupFor {
				s.mu.Unlock()
				logger.Debug("dropped redelivered record for completed entry %s", key)
				return nil
			}
			delete(s.committed, key)
		}
		if len(s.entries) >= w.maxPerShard {
			evicted = w.evictOldestLocked(s)
		}
		e = &entry{
			device:   rec.Device,
			epoch:    epoch,
			created:  time.Now(),
			expected: w.expectedFor(rec.Device),
			records:  make(map[record.Variant]record.Record),
		}
		s.entries[key] = e
		captured := e
		e.timer = time.AfterFunc(w.timeout, func() {
			w.sealExpired(key, captured)
		})
	}

	e.records[rec.Variant()] = rec

	if e.complete() {
		cr := w.sealLocked(s, key, e, record.SealComplete)
		sealed = &cr
	}
	s.mu.Unlock()

	if evicted != nil {
		logger.Warn("open entry bound reached, force-sealed oldest entry %s", evicted.Key)
		w.onSealed(*evicted)
	}
	return sealed
}

// sealExpired handles the per-entry timeout. The entry pointer is compared
// so a timer left over from a redelivered key cannot seal its successor.
func (w *Window) sealExpired(key string, e *entry) {
	s := w.shardFor(key)

	s.mu.Lock()
	current, ok := s.entries[key]
	if !ok || current != e {
		s.mu.Unlock()
		return
	}
	cr := w.sealLocked(s, key, e, record.SealTimeout)
	s.mu.Unlock()

	w.onSealed(cr)
}

// sealLocked removes the entry and flattens it. Caller holds the shard lock.
func (w *Window) sealLocked(s *shard, key string, e *entry, reason string) record.CommitRecord {
	e.timer.Stop()
	delete(s.entries, key)
	if reason == record.SealComplete {
		s.rememberCommitted(key, w.maxPerShard*4)
	}
	partial := len(e.expected) > 0 && reason != record.SealComplete && !e.complete()
	return record.NewCommitRecord(e.device, e.epoch, partial, reason, e.records)
}

// rememberCommitted records a completed key, evicting the oldest remembered
// key once the bound is hit.
func (s *shard) rememberCommitted(key string, max int) {
	if len(s.committed) >= max {
		var oldestKey string
		var oldest time.Time
		for k, t := range s.committed {
			if oldestKey == "" || t.Before(oldest) {
				oldestKey, oldest = k, t
			}
		}
		delete(s.committed, oldestKey)
	}
	s.committed[key] = time.Now()
}

// evictOldestLocked force-seals the oldest open entry in the shard.
func (w *Window) evictOldestLocked(s *shard) *record.CommitRecord {
	var oldestKey string
	var oldest *entry
	for k, e := range s.entries {
		if oldest == nil || e.created.Before(oldest.created) {
			oldestKey, oldest = k, e
		}
	}
	if oldest == nil {
		return nil
	}
	cr := w.sealLocked(s, oldestKey, oldest, record.SealEvicted)
	return &cr
}

// Open returns the number of currently open entries.
func (w *Window) Open() int {
	n := 0
	for i := range w.shards {
		w.shards[i].mu.Lock()
		n += len(w.shards[i].entries)
		w.shards[i].mu.Unlock()
	}
	return n
}

// Drain force-seals every open entry and closes the window. Used on
// shutdown so accumulated partial readings are committed rather than lost.
func (w *Window) Drain() []record.CommitRecord {
	w.closedMu.Lock()
	w.closed = true
	w.closedMu.Unlock()

	var out []record.CommitRecord
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			out = append(out, w.sealLocked(s, key, e, record.SealShutdown))
		}
		s.mu.Unlock()
	}
	return out
}
