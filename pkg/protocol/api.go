// Package protocol defines the request/response types of the storage and
// execution sandbox APIs.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
)

// Storage strategies reported by GET /api/projects/{id}.
const (
	StrategyFat   = "fat"
	StrategySplit = "split"
)

// ProjectResponse is returned by GET /api/projects/{id}[?version=V].
// Tree is set for the fat strategy, Files for the split strategy.
type ProjectResponse struct {
	Strategy string             `json:"strategy"`
	Size     int64              `json:"size"`
	Version  Version            `json:"version,omitempty"`
	Tree     models.Nodes       `json:"tree,omitempty"`
	Files    []models.FlatEntry `json:"files,omitempty"`
}

// SaveRequest is the body for POST /api/projects/{id}.
type SaveRequest struct {
	Tree models.Nodes `json:"tree"`
}

// SaveResponse is returned by POST /api/projects/{id}.
type SaveResponse struct {
	Version Version `json:"version"`
	Size    int64   `json:"size"`
}

// Version is an opaque snapshot version. The storage service may send it
// as a JSON string or number.
type Version string

// UnmarshalJSON accepts a string or a number.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = Version(n.String())
	return nil
}

// Int returns the version as an integer when it is numeric.
func (v Version) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(v), 10, 64)
	return n, err == nil
}

// SessionResponse is returned by POST /api/session/new.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

// UploadRequest is the body for POST /api/session/{id}/files.
type UploadRequest = models.UploadFile

// Stream actions sent by the client.
const ActionRun = "run"

// Command is an outbound stream message.
type Command struct {
	Action string `json:"action"`
}

// Inbound stream message types.
const (
	TypeStdout = "stdout"
	TypeStderr = "stderr"
	TypeError  = "error"
	// TypeExit and TypeDone mark the end of a run. The protocol does not
	// require them; sandboxes that send one let the client stop waiting
	// for output immediately.
	TypeExit = "exit"
	TypeDone = "done"
)

// StreamMessage is an inbound stream message. The legacy shape carries
// only Content.
type StreamMessage struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
