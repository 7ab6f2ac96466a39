package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string
	Format         string
	FilePath       string
	FileMaxSizeMB  int
	FileMaxFiles   int
	FileMaxAgeDays int
}

// outputChanged reports whether switching from c to other requires a new handler.
// Level changes alone are applied through the shared LevelVar.
func (c Config) outputChanged(other Config) bool {
	return c.Format != other.Format ||
		c.FilePath != other.FilePath ||
		c.FileMaxSizeMB != other.FileMaxSizeMB ||
		c.FileMaxFiles != other.FileMaxFiles ||
		c.FileMaxAgeDays != other.FileMaxAgeDays
}

// swappableHandler is a slog.Handler whose delegate can be replaced at runtime.
// Loggers derived via With/WithGroup keep following later swaps because they
// share the root pointer and replay their attrs on each call.
type swappableHandler struct {
	root  *atomic.Pointer[slog.Handler]
	attrs []slog.Attr
	group string
}

func newSwappableHandler(h slog.Handler) *swappableHandler {
	p := &atomic.Pointer[slog.Handler]{}
	p.Store(&h)
	return &swappableHandler{root: p}
}

func (s *swappableHandler) current() slog.Handler {
	h := *s.root.Load()
	if s.group != "" {
		h = h.WithGroup(s.group)
	}
	if len(s.attrs) > 0 {
		h = h.WithAttrs(s.attrs)
	}
	return h
}

func (s *swappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.root.Load()).Enabled(ctx, level)
}

func (s *swappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *swappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(s.attrs)+len(attrs))
	merged = append(merged, s.attrs...)
	merged = append(merged, attrs...)
	return &swappableHandler{root: s.root, attrs: merged, group: s.group}
}

func (s *swappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	// Attributes recorded before the group stay outside of it, so fold them
	// into a fresh chain rooted at the current delegate.
	if len(s.attrs) > 0 || s.group != "" {
		return &frozenHandler{inner: s.current().WithGroup(name)}
	}
	return &swappableHandler{root: s.root, group: name}
}

// frozenHandler wraps a handler that no longer follows swaps; used only for
// the rare nested-group case.
type frozenHandler struct{ inner slog.Handler }

func (f *frozenHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return f.inner.Enabled(ctx, l)
}
func (f *frozenHandler) Handle(ctx context.Context, r slog.Record) error {
	return f.inner.Handle(ctx, r)
}
func (f *frozenHandler) WithAttrs(a []slog.Attr) slog.Handler {
	return &frozenHandler{inner: f.inner.WithAttrs(a)}
}
func (f *frozenHandler) WithGroup(n string) slog.Handler {
	return &frozenHandler{inner: f.inner.WithGroup(n)}
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *swappableHandler

	mu     sync.Mutex
	config Config
	closer io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager and returns it along with a ready-to-use logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(ParseLevel(cfg.Level))

	writer, closer := buildWriter(cfg)
	m := &Manager{
		levelVar: lvl,
		handler:  newSwappableHandler(buildHandler(writer, lvl, cfg.Format)),
		config:   cfg,
		closer:   closer,
	}
	return m, slog.New(m.handler)
}

// Reconfigure applies a new configuration at runtime. It reports whether the
// output handler was rebuilt (format or file settings changed).
func (m *Manager) Reconfigure(cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(ParseLevel(cfg.Level))

	rebuilt := m.config.outputChanged(cfg)
	if rebuilt {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		writer, closer := buildWriter(cfg)
		h := buildHandler(writer, m.levelVar, cfg.Format)
		m.handler.root.Store(&h)
		m.closer = closer
	}

	m.config = cfg
	return rebuilt
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file writer, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// ParseLevel converts a string to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildWriter returns stdout, or stdout plus a rotating file when a path is set.
func buildWriter(cfg Config) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return os.Stdout, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    positiveOr(cfg.FileMaxSizeMB, 100),
		MaxBackups: positiveOr(cfg.FileMaxFiles, 3),
		MaxAge:     positiveOr(cfg.FileMaxAgeDays, 30),
	}
	return io.MultiWriter(os.Stdout, lj), lj
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
