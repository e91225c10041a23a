package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"audio","data":"AQIDBA=="}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(Audio)
	if !ok {
		t.Fatalf("message type = %T, want Audio", msg)
	}
	if audio.Payload() != "AQIDBA==" {
		t.Fatalf("Payload() = %q, want %q", audio.Payload(), "AQIDBA==")
	}
}

func TestParseClientMessageAudioLegacyField(t *testing.T) {
	raw := []byte(`{"type":"audio","audio_data":"AQID"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(Audio)
	if !ok {
		t.Fatalf("message type = %T, want Audio", msg)
	}
	if audio.Payload() != "AQID" {
		t.Fatalf("Payload() = %q, want %q", audio.Payload(), "AQID")
	}
}

func TestParseClientMessageGetStats(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"get_stats"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(GetStats); !ok {
		t.Fatalf("message type = %T, want GetStats", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{not json`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestParseClientMessageRejectsMissingType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"data":"AQID"}`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestParseClientMessageRejectsEmptyAudioPayload(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"audio","data":""}`))
	if err == nil {
		t.Fatalf("expected validation error for empty payload")
	}
}

func BenchmarkParseClientMessageAudio(b *testing.B) {
	raw := []byte(`{"type":"audio","data":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(Audio); !ok {
			b.Fatalf("message type = %T, want Audio", msg)
		}
	}
}
