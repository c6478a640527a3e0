package wire

import (
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvelope([]byte(`{"type":"message","message":"hello"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if env.Type != TypeMessage || env.Message != "hello" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestParseEnvelopeCheckpointFields(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvelope([]byte(`{"type":"checkpoint_update","completed_checkpoints":["c1"],"progress":50}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if env.CompletedCheckpoints == nil || env.Progress == nil {
		t.Fatal("both checkpoint fields should be present")
	}
	if len(env.CompletedCheckpoints) != 1 || env.CompletedCheckpoints[0] != "c1" {
		t.Errorf("unexpected completed set: %v", env.CompletedCheckpoints)
	}
	if *env.Progress != 50 {
		t.Errorf("unexpected progress: %v", *env.Progress)
	}

	// An empty completed set is still present, unlike a missing field.
	env, err = ParseEnvelope([]byte(`{"type":"checkpoint_update","completed_checkpoints":[],"progress":0}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if env.CompletedCheckpoints == nil {
		t.Error("empty array should parse as present")
	}

	env, err = ParseEnvelope([]byte(`{"type":"checkpoint_update","progress":50}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if env.CompletedCheckpoints != nil {
		t.Error("missing array should parse as nil")
	}
}

func TestParseEnvelopeRejectsMalformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseEnvelope([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := ParseEnvelope([]byte(`{"message":"no type"}`)); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestParseEnvelopeKeepsUnknownTypes(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvelope([]byte(`{"type":"future_thing","message":"?"}`))
	if err != nil {
		t.Fatalf("unknown types must still parse: %v", err)
	}
	if env.Type.Known() {
		t.Errorf("%q should not be a known type", env.Type)
	}
}

func TestOutboundFrames(t *testing.T) {
	t.Parallel()

	data, err := UserMessage("hi").Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data) != `{"type":"user_message","message":"hi"}` {
		t.Errorf("unexpected frame: %s", data)
	}

	data, err = Ping().Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("unexpected frame: %s", data)
	}
}

func TestFrameTypeKnown(t *testing.T) {
	t.Parallel()

	known := []FrameType{
		TypeConnectionAck, TypeHistory, TypeProcessingStart, TypeProcessingEnd,
		TypeMessage, TypeHandover, TypeCheckpointUpdate, TypeSessionClosed,
		TypePong, TypeError,
	}
	for _, ft := range known {
		if !ft.Known() {
			t.Errorf("%s should be known", ft)
		}
	}
	// Outbound types are not part of the inbound enum.
	if TypeUserMessage.Known() || TypePing.Known() {
		t.Error("outbound types must not validate as inbound")
	}
}
