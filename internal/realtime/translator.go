// Package realtime manages bidirectional audio sessions over WebSocket.
// A Session owns the socket and its lifecycle; a Translator owns one
// upstream dialect, mapping unified messages to wire frames and back.
// Severity of upstream error events is the translator's call, since only
// it knows which of its protocol's errors are fatal.
package realtime

import "github.com/nulzo/refract/pkg/api"

// Translator converts between unified realtime messages and one upstream
// wire protocol.
type Translator interface {
	// SessionUpdate returns the wire message that applies the session
	// configuration, sent right after the socket opens. A nil return
	// skips the step.
	SessionUpdate(cfg api.SessionConfig) (interface{}, error)

	// ToWire maps one outbound message to zero or more wire messages.
	// Returning none drops the message silently.
	ToWire(msg api.RealtimeMessage) ([]interface{}, error)

	// Complete returns the wire messages that signal end-of-input. The
	// caller is done sending but still expects the response to finish. A
	// nil return means the dialect needs no explicit signal.
	Complete() ([]interface{}, error)

	// FromWire maps one inbound frame to zero or more unified results.
	// Upstream error events come back as ErrorMessage values carrying the
	// translator's severity classification; Terminal ones end the session.
	FromWire(data []byte) ([]api.RealtimeResult, error)
}
