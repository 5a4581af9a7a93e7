package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestEncodeDecode_TypedVariant tests that a typed payload survives the trip
// through the schemaless map form.
func TestEncodeDecode_TypedVariant(t *testing.T) {
	bullish := true
	payload, err := Encode(&NarrativeShift{
		Summary:       "AI agent tokens are running hard",
		Topics:        []string{"ai", "agents"},
		CryptoBullish: &bullish,
		Sources:       12,
	})
	assert.NoError(t, err)
	assert.Equal(t, KindNarrativeShift, payload["kind"])

	decoded := Decode(&Message{Payload: payload})
	shift, ok := decoded.(*NarrativeShift)
	if assert.True(t, ok, "Expected *NarrativeShift, got %T", decoded) {
		assert.Equal(t, "AI agent tokens are running hard", shift.Summary)
		assert.Equal(t, []string{"ai", "agents"}, shift.Topics)
		if assert.NotNil(t, shift.CryptoBullish) {
			assert.True(t, *shift.CryptoBullish)
		}
	}
}

// TestDecode_AlertCategory tests the guardian alert variant, whose category
// may be absent (supervisor then falls back to the generic renderer).
func TestDecode_AlertCategory(t *testing.T) {
	payload, err := Encode(&SafetyAlert{Details: "LP pool TVL dropped 45% in 1h", TvlDropPct: 45})
	assert.NoError(t, err)

	decoded := Decode(&Message{Payload: payload})
	alert, ok := decoded.(*SafetyAlert)
	if assert.True(t, ok) {
		assert.Empty(t, alert.Category)
		assert.Equal(t, 45.0, alert.TvlDropPct)
	}
}

// TestDecode_UnknownKind tests that unrecognized payloads come back as
// Generic with the raw fields preserved.
func TestDecode_UnknownKind(t *testing.T) {
	msg := &Message{Payload: map[string]interface{}{
		"kind": "quantum_forecast",
		"note": "not a thing we decode",
	}}

	decoded := Decode(msg)
	generic, ok := decoded.(*Generic)
	if assert.True(t, ok, "Unknown kinds must decode as Generic, got %T", decoded) {
		assert.Equal(t, "quantum_forecast", generic.Kind())
		assert.Equal(t, "not a thing we decode", generic.Fields["note"])
	}
}

// TestDecode_MissingKind tests the fallback for legacy payloads without a
// discriminator.
func TestDecode_MissingKind(t *testing.T) {
	msg := &Message{Payload: map[string]interface{}{"summary": "free-form"}}

	decoded := Decode(msg)
	generic, ok := decoded.(*Generic)
	if assert.True(t, ok) {
		assert.Empty(t, generic.Kind())
		assert.Equal(t, "free-form", generic.Fields["summary"])
	}
}

// TestPayloadHelpers tests the loose field extractors used on Generic
// payloads.
func TestPayloadHelpers(t *testing.T) {
	payload := map[string]interface{}{
		"summary":   "text",
		"count":     float64(7),
		"timestamp": float64(1700000000),
	}

	assert.Equal(t, "text", PayloadString(payload, "summary"))
	assert.Equal(t, "", PayloadString(payload, "missing"))
	assert.Equal(t, 7.0, PayloadFloat(payload, "count"))
	assert.Equal(t, 0.0, PayloadFloat(payload, "missing"))

	ts, ok := PayloadTime(payload, "timestamp")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, ok = PayloadTime(payload, "missing")
	assert.False(t, ok)
}
