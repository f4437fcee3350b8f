package keychannel

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeLayout(t *testing.T) {
	id := uuid.MustParse("6e0dd59d-660e-4d9b-b22f-0354479f47b4")
	msg := New(id, "mailbox_id:42", `{"type":"added"}`)

	assert.Equal(t, `6e0dd59d-660e-4d9b-b22f-0354479f47b4|||mailbox_id:42|||{"type":"added"}`, msg.Serialize())
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		routingKey string
		json       string
	}{
		{"simple", "username:bob@example.com", `{"user":"bob"}`},
		{"empty json", "mailbox_id:1", ""},
		{"empty routing key", "", `{}`},
		{"unicode", "username:zoë", `{"subject":"héllo"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := New(uuid.New(), tt.routingKey, tt.json)
			out, err := Parse(in.Serialize())
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestParseKeepsDelimiterInsidePayload(t *testing.T) {
	id := uuid.New()
	payload := id.String() + "|||username:bob|||{\"note\":\"a|||b\"}"

	msg, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "username:bob", msg.RoutingKey)
	assert.Equal(t, `{"note":"a|||b"}`, msg.EventJSON)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no delimiter", "garbage"},
		{"two parts", uuid.NewString() + "|||username:bob"},
		{"bad bus id", "not-a-uuid|||username:bob|||{}"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage))
		})
	}
}

func TestParseWrapsUUIDCause(t *testing.T) {
	_, err := Parse("zzz|||k|||{}")
	require.Error(t, err)

	assert.Contains(t, err.Error(), "invalid UUID length")
}

func TestQuoteChannel(t *testing.T) {
	assert.Equal(t, `"6e0dd59d-660e-4d9b-b22f-0354479f47b4"`, QuoteChannel("6e0dd59d-660e-4d9b-b22f-0354479f47b4"))
	assert.Equal(t, `"we""ird"`, QuoteChannel(`we"ird`))
}
