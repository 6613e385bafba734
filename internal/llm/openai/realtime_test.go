package openai

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/refract/pkg/api"
)

func TestRTTranslator_SessionUpdate(t *testing.T) {
	tr := &rtTranslator{}
	update, err := tr.SessionUpdate(api.SessionConfig{
		Model: "gpt-4o-realtime-preview",
		Voice: "verse",
		Tools: []api.Tool{{
			Type:     "function",
			Function: api.FunctionDescription{Name: "get_weather"},
		}},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"session.update"`)
	assert.Contains(t, string(raw), `"voice":"verse"`)
	// Realtime tools are flattened, not nested under "function".
	assert.Contains(t, string(raw), `"name":"get_weather"`)
	assert.NotContains(t, string(raw), `"function":{`)
}

func TestRTTranslator_ToWire(t *testing.T) {
	tr := &rtTranslator{}

	// Audio frames append to the input buffer.
	frames, err := tr.ToWire(api.AudioFrame{Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	raw, _ := json.Marshal(frames[0])
	assert.Contains(t, string(raw), "input_audio_buffer.append")
	assert.Contains(t, string(raw), base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))

	// Text input fans out to item.create plus response.create.
	frames, err = tr.ToWire(api.TextInput{Text: "hi"})
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	// Inbound-only kinds map to nothing.
	frames, err = tr.ToWire(api.TextDelta{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestRTTranslator_FromWire(t *testing.T) {
	tr := &rtTranslator{}

	audio := base64.StdEncoding.EncodeToString([]byte("pcm"))
	results, err := tr.FromWire([]byte(`{"type":"response.audio.delta","delta":"` + audio + `"}`))
	require.NoError(t, err)
	require.Len(t, results, 1)
	frame, ok := results[0].Message.(api.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, []byte("pcm"), frame.Data)

	results, err = tr.FromWire([]byte(`{"type":"response.audio_transcript.delta","delta":"Hello"}`))
	require.NoError(t, err)
	assert.Equal(t, api.TextDelta{Text: "Hello"}, results[0].Message)

	results, err = tr.FromWire([]byte(`{"type":"response.function_call_arguments.done","call_id":"c1","name":"get_weather","arguments":"{}"}`))
	require.NoError(t, err)
	call := results[0].Message.(api.FunctionCallMessage)
	assert.Equal(t, "get_weather", call.Name)

	// Housekeeping events are dropped.
	results, err = tr.FromWire([]byte(`{"type":"rate_limits.updated"}`))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRTTranslator_ErrorClassification(t *testing.T) {
	tr := &rtTranslator{}

	results, err := tr.FromWire([]byte(`{"type":"error","error":{"type":"server_error","message":"boom"}}`))
	require.NoError(t, err)
	errMsg := results[0].Message.(api.ErrorMessage)
	assert.Equal(t, api.SeverityCritical, errMsg.Severity)
	assert.True(t, errMsg.Terminal)

	results, _ = tr.FromWire([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"","message":"bad event"}}`))
	errMsg = results[0].Message.(api.ErrorMessage)
	assert.Equal(t, api.SeverityError, errMsg.Severity)
	assert.False(t, errMsg.Terminal)

	results, _ = tr.FromWire([]byte(`{"type":"error","error":{"code":"session_expired","message":"expired"}}`))
	errMsg = results[0].Message.(api.ErrorMessage)
	assert.True(t, errMsg.Terminal)

	results, _ = tr.FromWire([]byte(`{"type":"error","error":{"code":"rate_limit_exceeded","message":"slow down"}}`))
	errMsg = results[0].Message.(api.ErrorMessage)
	assert.Equal(t, api.SeverityWarning, errMsg.Severity)
	assert.False(t, errMsg.Terminal)
}
