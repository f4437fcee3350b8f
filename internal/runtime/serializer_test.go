package runtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

func TestJSONEventSerializer_RoundTrip(t *testing.T) {
	s := NewJSONEventSerializer()
	s.RegisterEventType(testEventType, func() Event { return &testEvent{} })

	in := newTestEvent("bob")
	data, err := s.ToJSON(in)
	require.NoError(t, err)
	assert.Contains(t, data, `"type":"`+testEventType+`"`)

	out, err := s.FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSONEventSerializer_UnknownType(t *testing.T) {
	s := NewJSONEventSerializer()
	_, err := s.FromJSON(`{"type":"Nope","event":{}}`)
	require.ErrorIs(t, err, errspkg.ErrUnknownEventType)
}

func TestJSONEventSerializer_MalformedEnvelope(t *testing.T) {
	s := NewJSONEventSerializer()
	_, err := s.FromJSON(`not json`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode event envelope")
}

func TestJSONEventSerializer_NilEvent(t *testing.T) {
	_, err := NewJSONEventSerializer().ToJSON(nil)
	require.ErrorIs(t, err, errspkg.ErrEventRequired)
}

func TestJSONEventSerializer_GenericEvent(t *testing.T) {
	s := NewJSONEventSerializer()
	s.RegisterGenericEventType("QuotaUsageUpdated")

	in := &GenericEvent{ID: "e-1", User: "alice", Type: "QuotaUsageUpdated", Payload: json.RawMessage(`{"used":12}`)}
	data, err := s.ToJSON(in)
	require.NoError(t, err)

	out, err := s.FromJSON(data)
	require.NoError(t, err)
	got, ok := out.(*GenericEvent)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username())
	assert.JSONEq(t, `{"used":12}`, string(got.Payload))
}
