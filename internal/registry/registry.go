package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrCorruptRecord marks a single malformed persisted entry. Load skips and
// logs such entries; it never aborts the whole load for one bad line.
var ErrCorruptRecord = errors.New("corrupt registry record")

// Registry is the durable, insertion-ordered set of tracked bot records.
// It is not safe for concurrent use: the supervision layer serializes all
// mutation by construction (one tick or command at a time).
type Registry struct {
	path    string
	records map[int]*Record
	order   []int
}

// New creates an empty registry persisted at path. Call Load to pick up
// state from a previous run.
func New(path string) *Registry {
	return &Registry{
		path:    path,
		records: make(map[int]*Record),
	}
}

// Path returns the backing file path.
func (g *Registry) Path() string { return g.path }

// Load reads the registry file, one JSON record per line. Malformed or
// invariant-breaking lines are logged and skipped. A missing file is an
// empty registry, not an error. Only I/O failures propagate.
func (g *Registry) Load() error {
	f, err := os.Open(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() { _ = f.Close() }()

	g.records = make(map[int]*Record)
	g.order = g.order[:0]

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("skipping corrupt registry entry",
				"path", g.path, "line", line, "error", fmt.Errorf("%w: %v", ErrCorruptRecord, err))
			continue
		}
		if err := rec.Validate(); err != nil {
			slog.Warn("skipping invalid registry entry",
				"path", g.path, "line", line, "error", fmt.Errorf("%w: %v", ErrCorruptRecord, err))
			continue
		}
		if _, dup := g.records[rec.PID]; dup {
			slog.Warn("skipping duplicate registry entry", "path", g.path, "line", line, "pid", rec.PID)
			continue
		}
		c := rec
		g.records[rec.PID] = &c
		g.order = append(g.order, rec.PID)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	return nil
}

// Save writes all records to a temporary file in the same directory, syncs
// it, and renames it over the live file so a crash mid-write never corrupts
// the last good state.
func (g *Registry) Save() error {
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(g.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer func() {
		// best-effort removal when the rename below did not happen
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, pid := range g.order {
		rec, ok := g.records[pid]
		if !ok {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode registry record %d: %w", pid, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.path); err != nil {
		return fmt.Errorf("publish registry: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the record keyed by its PID. New PIDs keep
// insertion order for deterministic display.
func (g *Registry) Upsert(rec Record) {
	if _, ok := g.records[rec.PID]; !ok {
		g.order = append(g.order, rec.PID)
	}
	c := rec
	g.records[rec.PID] = &c
}

// Remove deletes the record for pid and reports whether it existed.
func (g *Registry) Remove(pid int) bool {
	if _, ok := g.records[pid]; !ok {
		return false
	}
	delete(g.records, pid)
	for i, p := range g.order {
		if p == pid {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the record for pid.
func (g *Registry) Get(pid int) (Record, bool) {
	rec, ok := g.records[pid]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// All returns copies of all records in insertion order.
func (g *Registry) All() []Record {
	out := make([]Record, 0, len(g.order))
	for _, pid := range g.order {
		if rec, ok := g.records[pid]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Len returns the number of live records.
func (g *Registry) Len() int { return len(g.records) }
