// Package control is the daemon's local request/reply channel. Each
// connection carries newline-delimited JSON envelopes with one outstanding
// request at a time.
package control

import (
	"encoding/json"
	"path/filepath"

	"github.com/hamed0406/uptimed/internal/config"
)

type MessageType string

const (
	MsgPing   MessageType = "ping"
	MsgStatus MessageType = "status"
	MsgStop   MessageType = "stop"
)

// SocketName is the control socket's file name inside the daemon home.
const SocketName = "uptimed.sock"

func SocketPath(home string) string {
	return filepath.Join(home, SocketName)
}

// Request carries the client's connection id and the message type.
type Request struct {
	ID   string          `json:"id"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply echoes the request's id and type.
type Reply struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatusMessage is the resolved configuration answered to status.
type StatusMessage struct {
	Website  []config.Website `json:"website"`
	Database config.Database  `json:"database"`
}

const (
	pong     = "pong"
	stopping = "stopping"
)
