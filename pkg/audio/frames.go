// Package audio does bookkeeping on opaque telephony audio payloads. Payloads
// are never decoded; sizes are derived from the base64 length.
package audio

import (
	"fmt"
	"time"
)

// MulawSampleRate is the Media Streams rate. μ-law is one byte per sample.
const MulawSampleRate = 8000

// PayloadBytes returns the decoded size of a standard base64 payload without
// decoding it. Malformed lengths are rounded down.
func PayloadBytes(payload string) int {
	n := len(payload)
	if n == 0 {
		return 0
	}

	size := n / 4 * 3
	switch rem := n % 4; rem {
	case 2:
		size++
	case 3:
		size += 2
	}
	if n%4 == 0 && payload[n-1] == '=' {
		size--
		if payload[n-2] == '=' {
			size--
		}
	}
	return size
}

// Duration returns the playback time of n bytes of 8-bit audio at sampleRate
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Stats counts frames flowing in one direction of a call.
// It is not safe for concurrent use; the owner serializes access.
type Stats struct {
	Frames  int
	Dropped int
	Bytes   int
}

// Add records a forwarded payload and returns its decoded size
func (s *Stats) Add(payload string) int {
	n := PayloadBytes(payload)
	s.Frames++
	s.Bytes += n
	return n
}

// Drop records a payload that was not forwarded
func (s *Stats) Drop() {
	s.Dropped++
}

// Duration returns the audio time forwarded so far, assuming μ-law
func (s Stats) Duration() time.Duration {
	return Duration(s.Bytes, MulawSampleRate)
}

func (s Stats) String() string {
	return fmt.Sprintf("frames=%d dropped=%d audio=%s", s.Frames, s.Dropped, s.Duration().Round(time.Millisecond))
}
