package utils

import (
	"testing"
	"time"
)

func TestDecodeHeaderFieldASCII(t *testing.T) {
	decoded, lossy := DecodeHeaderField(`Plain.Subject [1/2] - "f.rar" yEnc (1/5)`)
	if lossy {
		t.Errorf("ASCII input flagged lossy")
	}
	if decoded != `Plain.Subject [1/2] - "f.rar" yEnc (1/5)` {
		t.Errorf("ASCII input changed: %q", decoded)
	}
}

func TestDecodeHeaderFieldLatin1(t *testing.T) {
	decoded, lossy := DecodeHeaderField("caf\xe9 r\xe9sum\xe9")
	if lossy {
		t.Errorf("Latin-1 input flagged lossy")
	}
	if decoded != "café résumé" {
		t.Errorf("decoded = %q, want café résumé", decoded)
	}
}

func TestDecodeHeaderFieldCP037(t *testing.T) {
	// C1 bytes never pass the Latin-1 leg, but CP037 maps them to a-c
	decoded, lossy := DecodeHeaderField("\x81\x82\x83")
	if lossy {
		t.Errorf("CP037 input flagged lossy")
	}
	if decoded != "abc" {
		t.Errorf("decoded = %q, want abc", decoded)
	}
}

func TestDecodeHeaderFieldLossy(t *testing.T) {
	// 0x85 forces the Latin-1 leg to fail, the NUL makes the CP037
	// result unprintable, so only the replacement decode remains
	decoded, lossy := DecodeHeaderField("\x85\x00ok")
	if !lossy {
		t.Errorf("undecodable input not flagged lossy")
	}
	if decoded != "�\x00ok" {
		t.Errorf("decoded = %q", decoded)
	}
}

func TestParseNNTPDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Mon, 01 Jun 2015 12:00:00 +0000", time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"Mon, 1 Jun 2015 12:00:00 +0000", time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"Mon, 01 Jun 2015 12:00:00 GMT", time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"1 Jun 2015 12:00:00 +0200", time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"01 Jun 15 12:00:05 GMT", time.Date(2015, 6, 1, 12, 0, 5, 0, time.UTC)},
		// trailing parenthesized zone name is stripped
		{"Mon, 01 Jun 2015 12:00:00 +1300 (NZDT)", time.Date(2015, 5, 31, 23, 0, 0, 0, time.UTC)},
		// broken 3-digit offset widened to +0200
		{"Mon, 01 Jun 2015 12:00:00 +200", time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"  Mon, 01 Jun 2015 12:00:00 +0000  ", time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseNNTPDate(tt.in)
		if err != nil {
			t.Errorf("ParseNNTPDate(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseNNTPDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.Location() != time.UTC {
			t.Errorf("ParseNNTPDate(%q) not in UTC: %v", tt.in, got)
		}
	}
}

func TestParseNNTPDateRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "not a date", "32 Jun 2015 12:00:00 +0000"} {
		if _, err := ParseNNTPDate(in); err == nil {
			t.Errorf("ParseNNTPDate(%q) should fail", in)
		}
	}
}
