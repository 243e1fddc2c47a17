package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

type LogType string

const (
	TypeOperation LogType = "OP"
	TypeDB        LogType = "DB"
	TypeSystem    LogType = "SYS"
	TypeSweeper   LogType = "SWP"
	TypeEvent     LogType = "EVT"
	TypeError     LogType = "ERR"
)

// Options configures a CustomHandler. The zero value logs INFO and above
// with colours.
type Options struct {
	Prefix    string
	Level     slog.Leveler
	AddSource bool
	NoColor   bool
}

type CustomHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	opts   Options
	attrs  []slog.Attr
	groups []string
}

func NewHandler(w io.Writer, opts Options) *CustomHandler {
	if w == nil {
		w = os.Stdout
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.Prefix == "" {
		opts.Prefix = "Auctions"
	}
	return &CustomHandler{
		out:  w,
		mu:   &sync.Mutex{},
		opts: opts,
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, h.qualify(a))
	}
	return &CustomHandler{out: h.out, mu: h.mu, opts: h.opts, attrs: merged, groups: h.groups}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string{}, h.groups...), name)
	return &CustomHandler{out: h.out, mu: h.mu, opts: h.opts, attrs: h.attrs, groups: groups}
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	all := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	all = append(all, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, h.qualify(a))
		return true
	})

	levelColor, levelText := levelStyle(r.Level)
	logType := typeOf(all)

	message := r.Message
	if r.Level >= slog.LevelError {
		if loc := errorLocation(r, all, h.opts.AddSource); loc != "" {
			message = fmt.Sprintf("%s (%s)", message, loc)
		}
		if details := attrString(all, "error"); details != "" {
			message = fmt.Sprintf("%s: %s", message, details)
		}
	}
	if status := attrString(all, "status"); status != "" {
		message = fmt.Sprintf("%s [Status: %s]", message, status)
	}

	var b strings.Builder
	for _, a := range all {
		if isInternalAttr(a.Key) {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}

	line := fmt.Sprintf("[%s] [%s] [%s] [%s] %s%s\n",
		h.opts.Prefix,
		r.Time.Format(time.TimeOnly),
		levelText,
		logType,
		message,
		b.String(),
	)
	if !h.opts.NoColor {
		line = fmt.Sprintf("%s[%s] [%s] [%s%s%s] [%s%s%s] %s%s%s\n",
			colorWhite,
			h.opts.Prefix,
			r.Time.Format(time.TimeOnly),
			levelColor, levelText, colorWhite,
			colorCyan, logType, colorWhite,
			message,
			b.String(),
			colorReset,
		)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

// qualify prefixes non-reserved keys with the open groups.
func (h *CustomHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 || isInternalAttr(a.Key) {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}

func levelStyle(level slog.Level) (string, string) {
	switch {
	case level >= slog.LevelError:
		return colorRed, "ERROR"
	case level >= slog.LevelWarn:
		return colorYellow, "WARN"
	case level >= slog.LevelInfo:
		return colorGreen, "INFO"
	default:
		return colorPurple, "DEBUG"
	}
}

func typeOf(attrs []slog.Attr) LogType {
	switch attrString(attrs, "type") {
	case "op":
		return TypeOperation
	case "db":
		return TypeDB
	case "sweeper":
		return TypeSweeper
	case "event":
		return TypeEvent
	case "error":
		return TypeError
	default:
		return TypeSystem
	}
}

func attrString(attrs []slog.Attr, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.Resolve().String()
		}
	}
	return ""
}

func isInternalAttr(key string) bool {
	switch key {
	case "type", "status", "error", "error_location":
		return true
	}
	return false
}

func errorLocation(r slog.Record, attrs []slog.Attr, addSource bool) string {
	if loc := attrString(attrs, "error_location"); loc != "" {
		return loc
	}
	if !addSource || r.PC == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{r.PC})
	f, _ := frames.Next()
	if f.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}
