package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelclient.ai/internal/lightjob"
	"voxelclient.ai/internal/world"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the current zstd frame.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

const (
	KindLightJob = "light_job"
	KindChunk    = "chunk"
)

// Record is one trace line. Light job and chunk events share the shape;
// unused fields are omitted.
type Record struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`

	JobID     string  `json:"job_id,omitempty"`
	Color     string  `json:"color,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	Retry     int     `json:"retry,omitempty"`
	Chunks    int     `json:"chunks,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms,omitempty"`

	Event  string `json:"event,omitempty"`
	CX     int    `json:"cx"`
	CZ     int    `json:"cz"`
	ID     string `json:"id,omitempty"`
	Source string `json:"source,omitempty"`
}

func LightJobRecord(ev lightjob.Event) Record {
	return Record{
		Kind:      KindLightJob,
		At:        ev.At,
		JobID:     ev.JobID,
		Color:     ev.Color.String(),
		Outcome:   string(ev.Outcome),
		Retry:     ev.Retry,
		Chunks:    ev.Chunks,
		ElapsedMS: float64(ev.Elapsed) / float64(time.Millisecond),
	}
}

func ChunkRecord(ev world.ChunkEvent) Record {
	return Record{
		Kind:   KindChunk,
		At:     ev.At,
		Event:  ev.Kind,
		CX:     ev.Coords[0],
		CZ:     ev.Coords[1],
		ID:     ev.ID,
		Source: ev.Source,
	}
}

// Sink is anything that accepts trace records besides the file writer.
type Sink interface {
	WriteRecord(r Record) error
}

// TraceLogger implements world.Tracer. Records go to the JSONL trace and to
// every extra sink. Write errors are counted, never returned to the frame.
type TraceLogger struct {
	w     *JSONLZstdWriter
	sinks []Sink

	mu     sync.Mutex
	errors int
}

func NewTraceLogger(dir string, sinks ...Sink) *TraceLogger {
	return &TraceLogger{w: NewJSONLZstdWriter(dir, "trace"), sinks: sinks}
}

func (l *TraceLogger) TraceLightJob(ev lightjob.Event) { l.write(LightJobRecord(ev)) }
func (l *TraceLogger) TraceChunk(ev world.ChunkEvent)  { l.write(ChunkRecord(ev)) }

func (l *TraceLogger) write(r Record) {
	if err := l.w.Write(r); err != nil {
		l.fail()
	}
	for _, s := range l.sinks {
		if err := s.WriteRecord(r); err != nil {
			l.fail()
		}
	}
}

func (l *TraceLogger) fail() {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

// Errors is the number of failed writes so far.
func (l *TraceLogger) Errors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

func (l *TraceLogger) Flush() error { return l.w.Flush() }
func (l *TraceLogger) Close() error { return l.w.Close() }

// ListTraceFiles returns trace-*.jsonl.zst files in dir, oldest first.
func ListTraceFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "trace-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadTraceFile calls fn for every record in one trace file.
func ReadTraceFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return sc.Err()
}
