package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PrettyJSONHandler writes one indented JSON object per record. It is meant
// for people watching a generator run, not for log shippers.
type PrettyJSONHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	addSource bool

	attrs  []scopedAttr
	groups []string
}

// scopedAttr remembers how many groups were open when the attr was added.
type scopedAttr struct {
	depth int
	attr  slog.Attr
}

func NewPrettyJSONHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyJSONHandler {
	h := &PrettyJSONHandler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *PrettyJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyJSONHandler) Handle(_ context.Context, r slog.Record) error {
	payload := make(map[string]any, 4+len(h.attrs)+r.NumAttrs())

	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	payload[slog.TimeKey] = when.Format(time.RFC3339Nano)
	payload[slog.LevelKey] = r.Level.String()
	payload[slog.MessageKey] = r.Message
	if h.addSource {
		if src := sourceFromPC(r.PC); src != "" {
			payload[slog.SourceKey] = src
		}
	}

	levels := make([]map[string]any, 0, len(h.groups)+1)
	levels = append(levels, payload)
	for _, g := range h.groups {
		m := map[string]any{}
		levels[len(levels)-1][g] = m
		levels = append(levels, m)
	}
	for _, sa := range h.attrs {
		addAttr(levels[sa.depth], sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(levels[len(levels)-1], a)
		return true
	})

	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func (h *PrettyJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]scopedAttr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, scopedAttr{depth: len(h.groups), attr: a})
	}
	return &clone
}

func (h *PrettyJSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func addAttr(dst map[string]any, a slog.Attr) {
	if a.Key == "" {
		return
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		child := map[string]any{}
		for _, ga := range v.Group() {
			addAttr(child, ga)
		}
		dst[a.Key] = child
		return
	}
	dst[a.Key] = valueToAny(v)
}

func valueToAny(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		}
		return v.Any()
	}
	return v.String()
}

func sourceFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.File == "" {
		return ""
	}
	file := f.File
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	return file + ":" + strconv.Itoa(f.Line)
}
