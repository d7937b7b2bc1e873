package sandbox

import (
	"fmt"
	"net/url"
)

// StreamURL resolves the stream URL returned by the session request
// against the sandbox base URL and maps it onto a websocket scheme.
// With secure set, plain ws is upgraded to wss.
func StreamURL(base, raw string, secure bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		u = b.ResolveReference(u)
	}

	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "ws"
		if secure {
			u.Scheme = "wss"
		}
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported stream url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
