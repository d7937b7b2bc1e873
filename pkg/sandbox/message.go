package sandbox

import (
	"bytes"
	"encoding/json"

	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
)

// Kind classifies an inbound stream message.
type Kind int

const (
	KindStdout Kind = iota
	KindStderr
	KindError
	// KindLegacy is the untyped {content} shape.
	KindLegacy
	// KindServer is JSON the client does not understand.
	KindServer
	// KindRaw is a payload that is not JSON.
	KindRaw
	// KindEnd marks the end of a run.
	KindEnd
)

var kindNames = [...]string{"stdout", "stderr", "error", "legacy", "server", "raw", "end"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Message is one inbound stream message in arrival order.
type Message struct {
	Seq     uint64
	Kind    Kind
	Content string
	Raw     string
}

// ParseMessage classifies a stream payload. It never fails: anything
// unparseable becomes a raw message.
func ParseMessage(data []byte) Message {
	raw := string(data)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		if json.Valid(bytes.TrimSpace(data)) {
			return Message{Kind: KindServer, Raw: raw}
		}
		return Message{Kind: KindRaw, Raw: raw}
	}

	typ, _ := stringField(obj, "type")
	content, hasContent := stringField(obj, "content")

	switch typ {
	case protocol.TypeStdout:
		return Message{Kind: KindStdout, Content: content, Raw: raw}
	case protocol.TypeStderr:
		return Message{Kind: KindStderr, Content: content, Raw: raw}
	case protocol.TypeError:
		return Message{Kind: KindError, Content: content, Raw: raw}
	case protocol.TypeExit, protocol.TypeDone:
		return Message{Kind: KindEnd, Content: content, Raw: raw}
	}
	if hasContent {
		return Message{Kind: KindLegacy, Content: content, Raw: raw}
	}
	return Message{Kind: KindServer, Raw: raw}
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Line renders the message as a console line. End markers render empty.
func (m Message) Line() string {
	switch m.Kind {
	case KindStdout, KindLegacy:
		return m.Content
	case KindStderr:
		return "[stderr] " + m.Content
	case KindError:
		return "[error] " + m.Content
	case KindServer:
		return "[server] " + m.Raw
	case KindRaw:
		return m.Raw
	case KindEnd:
		return ""
	}
	return m.Raw
}
