package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Tracer receives trace events. Implementations must be safe for use by
// concurrent translation units.
type Tracer interface {
	Emit(ev *Event)
	Flush() error
	// Close flushes and releases the output.
	Close() error
	Level() Level
	// Enabled reports Level() > LevelOff.
	Enabled() bool
}

// StorageMode selects where events go: written out as they arrive, kept as
// an in-memory tail, or both.
type StorageMode uint8

const (
	ModeStream StorageMode = iota + 1
	ModeRing
	ModeBoth
)

var modeNames = [...]string{ModeStream: "stream", ModeRing: "ring", ModeBoth: "both"}

func (m StorageMode) String() string {
	if int(m) < len(modeNames) && modeNames[m] != "" {
		return modeNames[m]
	}
	return "unknown"
}

func (m StorageMode) streams() bool { return m == ModeStream || m == ModeBoth }
func (m StorageMode) rings() bool   { return m == ModeRing || m == ModeBoth }

// ParseMode accepts stream, ring or both.
func ParseMode(s string) (StorageMode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name != "" && name == want {
			return StorageMode(i), nil
		}
	}
	return ModeStream, fmt.Errorf("invalid storage mode %q (want stream|ring|both)", s)
}

// Config holds tracer settings, filled from the --trace* flags.
type Config struct {
	Level      Level
	Mode       StorageMode
	Format     Format    // FormatAuto picks from OutputPath
	Output     io.Writer // stream destination; OutputPath is used when nil
	OutputPath string    // "-" or "" for stderr
	RingSize   int       // default 4096
}

// New builds the tracer described by cfg. LevelOff yields Nop.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	var sinks []Tracer
	if cfg.Mode.streams() {
		w, err := openOutput(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, NewStreamTracer(w, cfg.Level, formatFor(cfg)))
	}
	if cfg.Mode.rings() {
		sinks = append(sinks, NewRingTracer(cfg.RingSize, cfg.Level))
	}
	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("unknown storage mode: %v", cfg.Mode)
	case 1:
		return sinks[0], nil
	default:
		return NewMultiTracer(cfg.Level, sinks...), nil
	}
}

// formatFor resolves FormatAuto: .ndjson and .jsonl outputs get NDJSON,
// everything else text.
func formatFor(cfg Config) Format {
	if cfg.Format != FormatAuto {
		return cfg.Format
	}
	switch strings.ToLower(filepath.Ext(cfg.OutputPath)) {
	case ".ndjson", ".jsonl":
		return FormatNDJSON
	default:
		return FormatText
	}
}

func openOutput(cfg Config) (io.Writer, error) {
	if cfg.Output != nil {
		return cfg.Output, nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		// hide Close so the tracer never closes stderr
		return struct{ io.Writer }{os.Stderr}, nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, nil
}
