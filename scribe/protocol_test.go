package scribe

import (
	"encoding/json"
	"testing"
)

func TestEncodeConfigure(t *testing.T) {
	data, err := encodeConfigure("scribe_v1", "en")
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["message_type"] != "configure" {
		t.Errorf("message_type = %q", m["message_type"])
	}
	if m["model_id"] != "scribe_v1" || m["language_code"] != "en" {
		t.Errorf("model/language = %q/%q", m["model_id"], m["language_code"])
	}
	if m["encoding"] != "pcm_16000" {
		t.Errorf("encoding = %q, want pcm_16000", m["encoding"])
	}
}

func TestEncodeConfigureOmitsEmptyLanguage(t *testing.T) {
	data, err := encodeConfigure("scribe_v1", "")
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["language_code"]; ok {
		t.Error("empty language_code should be omitted")
	}
}

func TestDecodeEventVariants(t *testing.T) {
	cases := []struct {
		raw  string
		kind EventKind
	}{
		{`{"message_type":"session_started","session_id":"abc"}`, EventSessionStarted},
		{`{"message_type":"partial_transcript","text":"hel"}`, EventPartial},
		{`{"message_type":"committed_transcript","text":"hello","confidence":0.9}`, EventCommitted},
		{`{"message_type":"input_error","message":"bad chunk"}`, EventInputError},
	}
	for _, c := range cases {
		ev, err := decodeEvent([]byte(c.raw))
		if err != nil {
			t.Fatalf("%s: %v", c.raw, err)
		}
		if ev.Kind != c.kind {
			t.Errorf("%s: kind = %v, want %v", c.raw, ev.Kind, c.kind)
		}
	}
}

func TestDecodeEventTimestamp(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"message_type":"partial_transcript","text":"x","timestamp":"2026-08-25T10:00:00Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Timestamp.Year() != 2026 || ev.Timestamp.Month() != 8 {
		t.Errorf("timestamp not parsed: %v", ev.Timestamp)
	}

	// Missing timestamp falls back to receipt time.
	ev, err = decodeEvent([]byte(`{"message_type":"partial_transcript","text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected non-zero fallback timestamp")
	}
}

func TestDecodeEventRejectsUnknownAndMalformed(t *testing.T) {
	if _, err := decodeEvent([]byte(`{"message_type":"telemetry"}`)); err == nil {
		t.Error("unknown message_type accepted")
	}
	if _, err := decodeEvent([]byte(`{not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
}
