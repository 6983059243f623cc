package audio

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestPayloadBytes(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "one byte", raw: []byte{0xff}},
		{name: "two bytes", raw: []byte{0xff, 0x7f}},
		{name: "three bytes", raw: []byte{1, 2, 3}},
		{name: "20ms frame", raw: make([]byte, 160)},
		{name: "odd length", raw: make([]byte, 161)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := base64.StdEncoding.EncodeToString(tt.raw)
			if got := PayloadBytes(payload); got != len(tt.raw) {
				t.Errorf("PayloadBytes(%q) = %d, want %d", payload, got, len(tt.raw))
			}

			unpadded := base64.RawStdEncoding.EncodeToString(tt.raw)
			if got := PayloadBytes(unpadded); got != len(tt.raw) {
				t.Errorf("PayloadBytes(%q) unpadded = %d, want %d", unpadded, got, len(tt.raw))
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(160, MulawSampleRate); got != 20*time.Millisecond {
		t.Errorf("Duration(160) = %v, want 20ms", got)
	}
	if got := Duration(8000, MulawSampleRate); got != time.Second {
		t.Errorf("Duration(8000) = %v, want 1s", got)
	}
	if got := Duration(100, 0); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}

func TestStats(t *testing.T) {
	var s Stats
	frame := base64.StdEncoding.EncodeToString(make([]byte, 160))

	for i := 0; i < 50; i++ {
		if n := s.Add(frame); n != 160 {
			t.Fatalf("Add returned %d, want 160", n)
		}
	}
	s.Drop()
	s.Drop()

	if s.Frames != 50 || s.Dropped != 2 || s.Bytes != 8000 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", s.Duration())
	}
	if got, want := s.String(), "frames=50 dropped=2 audio=1s"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}
