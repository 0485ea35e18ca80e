// internal/sched/trace.go

package sched

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// Tracer receives scheduler events. Trace is called on the core, inside
// interrupt handlers, so implementations must not block for long.
type Tracer interface {
	Trace(ev Event)
}

// TracerFunc adapts a function to a Tracer.
type TracerFunc func(ev Event)

func (f TracerFunc) Trace(ev Event) { f(ev) }

// MultiTracer fans events out to several tracers.
type MultiTracer []Tracer

func (m MultiTracer) Trace(ev Event) {
	for _, t := range m {
		t.Trace(ev)
	}
}

// LogTracer writes every event as a structured record at Level (Info when
// unset).
type LogTracer struct {
	Log   *slog.Logger
	Level slog.Level
}

func (l LogTracer) Trace(ev Event) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []slog.Attr{
		slog.Uint64("tick", uint64(ev.Tick)),
		slog.String("event", ev.Kind.String()),
	}
	if ev.Task != "" {
		attrs = append(attrs, slog.String("task", ev.Task), slog.Int("priority", int(ev.Priority)))
	}
	if ev.Slot >= 0 {
		attrs = append(attrs, slog.Int("slot", ev.Slot))
	}
	if ev.Resource != "" {
		attrs = append(attrs, slog.String("resource", ev.Resource))
	}
	log.LogAttrs(context.Background(), l.Level, "sched", attrs...)
}

// CSVTracer logs events to a CSV file.
type CSVTracer struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVTracer opens the given file path for CSV logging of events.
func NewCSVTracer(path string) (*CSVTracer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"timestamp", "tick", "event", "task", "priority", "slot", "resource"}); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	return &CSVTracer{f: f, w: w}, nil
}

func (c *CSVTracer) Trace(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return
	}
	_ = c.w.Write([]string{
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(uint64(ev.Tick), 10),
		ev.Kind.String(),
		ev.Task,
		strconv.Itoa(int(ev.Priority)),
		strconv.Itoa(ev.Slot),
		ev.Resource,
	})
}

// Close flushes and closes the file.
func (c *CSVTracer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}
	c.w.Flush()
	err := c.w.Error()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	c.w, c.f = nil, nil
	return err
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Trace(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns the recorded events of the given kinds, as "Kind:task"
// strings in order.
func (r *Recorder) Filter(kinds ...EventKind) []string {
	want := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []string
	for _, ev := range r.Events() {
		if !want[ev.Kind] {
			continue
		}
		name := ev.Task
		if ev.Resource != "" {
			name += "/" + ev.Resource
		}
		out = append(out, ev.Kind.String()+":"+name)
	}
	return out
}
