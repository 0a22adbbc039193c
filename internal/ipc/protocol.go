// Package ipc provides the unix-socket control channel for the daemon.
package ipc

import "fmt"

// Command is one control verb understood by the daemon.
type Command string

const (
	CommandStatus Command = "status"
	CommandToggle Command = "toggle"
	CommandStop   Command = "stop"
)

// Known reports whether the command belongs to the daemon's control surface.
func (c Command) Known() bool {
	switch c {
	case CommandStatus, CommandToggle, CommandStop:
		return true
	}
	return false
}

// Request is one newline-delimited JSON command from a client.
type Request struct {
	Command Command `json:"command"`
}

// Response carries the daemon state alongside the command result.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok builds a success response reporting the given daemon state.
func Ok(state, message string) Response {
	return Response{OK: true, State: state, Message: message}
}

// Errorf builds a failure response reporting the given daemon state.
func Errorf(state, format string, args ...any) Response {
	return Response{OK: false, State: state, Error: fmt.Sprintf(format, args...)}
}
