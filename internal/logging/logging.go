/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package logging is a thin, unstructured logger in the same register the
// rest of this codebase uses: prefixed fmt-style lines, no levels beyond
// info/error, no structured fields.
package logging

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// Logger prefixes every line with a component tag, e.g. "[shard]".
type Logger struct {
	tag string
	l   *log.Logger
}

func New(tag string) *Logger {
	return &Logger{tag: tag, l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (lg *Logger) Printf(format string, args ...any) {
	lg.l.Printf("[%s] %s", lg.tag, fmt.Sprintf(format, args...))
}

func (lg *Logger) Error(context string, err error) {
	lg.l.Printf("[%s] error: %s: %v", lg.tag, context, err)
}

// Recover is deferred at the top of the background workers (replica
// follower, migration loop, checkpoint worker, routing config watcher,
// stream workers), of per-message stream dispatch, and of the request
// handlers that change state or move tile data. Where it is deferred, a
// panic exits the process (spec §7 "cross-cutting"): this system runs
// under a supervisor and prefers fast-restart to partial inconsistency,
// so Recover logs the panic and stack, then exits rather than letting
// net/http's own per-request recovery paper over it. The read-only
// handlers (/control/status, GET /control/routing_config, /storage/health,
// /controller/status) and the /stream upgrade handler outside dispatch do
// not defer it; a panic there is caught by net/http's per-request
// recovery and the process keeps running.
func (lg *Logger) Recover(context string) {
	if r := recover(); r != nil {
		lg.l.Printf("[%s] fatal panic in %s: %v\n%s", lg.tag, context, r, debug.Stack())
		os.Exit(1)
	}
}
