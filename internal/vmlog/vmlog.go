// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public
// License along with this program. If not, see
// <http://www.gnu.org/licenses/>.

// Package vmlog wraps log/slog with a mutex-guarded writer and a debug
// toggle, so reactor tasks, cores and devices can all log through one
// handler without fighting over stderr.
package vmlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler formats records as "time level message attr attr..." and
// optionally mirrors everything to stderr when debug is enabled.
type Handler struct {
	out   io.Writer
	mu    *sync.Mutex
	debug bool
	level slog.Level
}

// NewHandler builds a Handler writing to out; when debug is true every
// record (regardless of level) is also mirrored to stderr.
func NewHandler(out io.Writer, level slog.Level, debug bool) *Handler {
	return &Handler{
		out:   out,
		mu:    &sync.Mutex{},
		debug: debug,
		level: level,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *Handler) WithGroup(_ string) slog.Handler      { return h }

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("15:04:05.000"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write([]byte(line))
	}
	if h.debug && h.out != os.Stderr {
		_, _ = os.Stderr.Write([]byte(line))
	}
	return err
}

// New returns a ready-to-use *slog.Logger writing to out.
func New(out io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(NewHandler(out, level, debug))
}

// Discard is a logger that drops every record; used by tests and by
// components constructed without an explicit logger.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))
