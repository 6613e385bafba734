package api

// SessionState is the lifecycle state of a realtime audio session.
type SessionState string

const (
	SessionConnecting SessionState = "connecting"
	SessionConnected  SessionState = "connected"
	SessionActive     SessionState = "active"
	SessionClosing    SessionState = "closing"
	SessionClosed     SessionState = "closed"
)

// Severity classifies upstream error events on a realtime session.
// Warnings are surfaced and the session continues; errors surface and may
// continue; critical errors terminate the session.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig carries the negotiated parameters of a realtime session.
// It is sent once on open and may be updated mid-session where the
// upstream protocol allows it.
type SessionConfig struct {
	Model             string         `json:"model"`
	Voice             string         `json:"voice,omitempty"`
	Language          string         `json:"language,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
	Tools             []Tool         `json:"tools,omitempty"`
}

// RealtimeMessage is one message on a realtime session, inbound or
// outbound. The set of variants is closed: translators map every upstream
// wire event onto one of these kinds or drop it.
type RealtimeMessage interface {
	realtimeMessage()
}

// AudioFrame is a chunk of audio, base64 PCM or the session's negotiated
// codec. Outbound frames append to the upstream input buffer; inbound
// frames are model speech.
type AudioFrame struct {
	Data []byte `json:"data"`
}

// AudioDone marks the end of one spoken model response.
type AudioDone struct {
	ItemID string `json:"item_id,omitempty"`
}

// TextInput is user text injected into the conversation.
type TextInput struct {
	Text string `json:"text"`
}

// TextDelta is a fragment of model text output, transcript or typed reply.
type TextDelta struct {
	Text  string `json:"text"`
	Final bool   `json:"final,omitempty"`
}

// FunctionCallMessage is a model-initiated tool invocation.
type FunctionCallMessage struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FunctionResultMessage returns a tool result to the model.
type FunctionResultMessage struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// StatusMessage reports a session lifecycle transition or an upstream
// housekeeping event with no payload mapping.
type StatusMessage struct {
	State  SessionState `json:"state,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// ErrorMessage carries an upstream error event with its classified
// severity. Terminal reports whether the session ends with it.
type ErrorMessage struct {
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Terminal bool     `json:"terminal,omitempty"`
}

func (AudioFrame) realtimeMessage()            {}
func (AudioDone) realtimeMessage()             {}
func (TextInput) realtimeMessage()             {}
func (TextDelta) realtimeMessage()             {}
func (FunctionCallMessage) realtimeMessage()   {}
func (FunctionResultMessage) realtimeMessage() {}
func (StatusMessage) realtimeMessage()         {}
func (ErrorMessage) realtimeMessage()          {}

// RealtimeResult is one received message or a transport error, delivered
// on the session's receive channel.
type RealtimeResult struct {
	Message RealtimeMessage
	Err     error
}
