package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	LevelTrace slog.Level = -8
	LevelFatal slog.Level = 12
)

const defaultRetention = 30 * 24 * time.Hour

type Options struct {
	// Dir receives one file per day. Empty disables file output.
	Dir       string
	Level     slog.Level
	Retention time.Duration
	// Quiet disables the console copy.
	Quiet bool
}

// output is the single writer goroutine shared by a handler and every handler derived from it.
type output struct {
	ch          chan []byte
	writer      io.Writer
	console     io.Writer
	currentDay  int
	currentFile *os.File
	basePath    string
	retention   time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type AsyncHandler struct {
	out      *output
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

func NewAsyncHandler(opts Options) *AsyncHandler {
	out := &output{
		ch:        make(chan []byte, 1024),
		basePath:  opts.Dir,
		retention: opts.Retention,
		console:   os.Stdout,
	}
	if opts.Quiet {
		out.console = io.Discard
	}
	if out.retention <= 0 {
		out.retention = defaultRetention
	}
	out.writer = out.console
	if err := out.rotateIfNeeded(time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}
	out.wg.Add(1)
	go out.startWorker()
	return &AsyncHandler{out: out, logLevel: opts.Level}
}

func (o *output) cleanOldLogs(now time.Time) {
	files, _ := filepath.Glob(filepath.Join(o.basePath, "*.log"))
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > o.retention {
			_ = os.Remove(f)
		}
	}
}

func (o *output) rotateIfNeeded(now time.Time) error {
	if o.basePath == "" {
		return nil
	}
	currentDay := now.YearDay()
	if currentDay == o.currentDay && o.currentFile != nil {
		return nil
	}

	if o.currentFile != nil {
		if err := o.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		o.currentFile = nil
		o.writer = o.console
	}

	logPath := filepath.Join(o.basePath, now.Format("2006-01-02")+".log")
	if err := os.MkdirAll(o.basePath, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	o.currentFile = f
	o.currentDay = currentDay
	o.writer = io.MultiWriter(o.console, o.currentFile)
	o.cleanOldLogs(now)
	return nil
}

func (o *output) startWorker() {
	defer o.wg.Done()
	for data := range o.ch {
		if err := o.rotateIfNeeded(time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		}
		_, _ = o.writer.Write(data)
	}
}

func (o *output) close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.ch)
		o.wg.Wait()
		if o.currentFile != nil {
			_ = o.currentFile.Sync()
			err = o.currentFile.Close()
		}
	})
	return err
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func levelName(level slog.Level) string {
	switch {
	case level <= LevelTrace:
		return color.HiBlackString("TRACE")
	case level < slog.LevelInfo:
		return color.MagentaString("DEBUG")
	case level < slog.LevelWarn:
		return color.BlueString("INFO")
	case level < slog.LevelError:
		return color.YellowString("WARN")
	case level < LevelFatal:
		return color.RedString("ERROR")
	default:
		return color.HiRedString("FATAL")
	}
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	var line strings.Builder
	fmt.Fprintf(&line, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		levelName(r.Level),
		color.CyanString(r.Message),
	)

	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(" %s=%v", attr.Key, attr.Value))
	}

	r.Attrs(func(attr slog.Attr) bool {
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		line.WriteString(color.CyanString(" %s=%v", key, attr.Value))
		return true
	})

	line.WriteByte('\n')
	h.Write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	for _, attr := range attrs {
		if h.group != "" {
			attr.Key = h.group + "." + attr.Key
		}
		newAttrs = append(newAttrs, attr)
	}
	return &AsyncHandler{out: h.out, attrs: newAttrs, group: h.group, logLevel: h.logLevel}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &AsyncHandler{out: h.out, attrs: h.attrs, group: group, logLevel: h.logLevel}
}

func (h *AsyncHandler) Write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	h.out.ch <- pb
}

// Close flushes pending lines. Logging after Close panics.
func (h *AsyncHandler) Close() error {
	return h.out.close()
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	return lc.handler.Close()
}

// ParseLevel maps a level name to a slog level. debug forces at least DEBUG.
func ParseLevel(name string, debug bool) (slog.Level, error) {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		level = slog.LevelInfo
	case "trace":
		level = LevelTrace
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	if debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	return level, nil
}

func Init(opts Options) *ShutdownCallback {
	handler := NewAsyncHandler(opts)
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Trace(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelTrace, msg, v...)
}

func TraceF(msg string, v ...interface{}) {
	if !slog.Default().Enabled(context.Background(), LevelTrace) {
		return
	}
	slog.Log(context.Background(), LevelTrace, fmt.Sprintf(msg, v...))
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
