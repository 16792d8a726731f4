// Package livereload serves the build output during development and tells
// connected browsers to reload, or to swap stylesheets in place, after a
// watch-triggered rebuild.
package livereload

import (
	"strings"
	"time"
)

// Message types understood by the browser client.
const (
	TypeHello  = "hello"
	TypeReload = "reload"
	TypeInject = "inject"
	TypeError  = "error"
)

// Message is sent to browsers as JSON over the reload socket.
type Message struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Paths []string  `json:"paths,omitempty"`
	Tasks []string  `json:"tasks,omitempty"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// isCritical reports whether a message of this kind outlives injections when
// a client queue overflows.
func isCritical(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return kind == TypeReload || kind == TypeError
}
