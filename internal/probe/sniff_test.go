package probe

import "testing"

func pad(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func TestSniffAudio(t *testing.T) {
	adpcm := pad([]byte("RIFF"), 64)
	copy(adpcm[8:], "WAVE")
	copy(adpcm[12:], "fmt ")
	adpcm[20] = 0x11

	aiff := pad([]byte("FORM"), 64)
	copy(aiff[8:], "AIFF")

	m4a := pad(nil, 64)
	copy(m4a[4:], "ftyp")
	copy(m4a[8:], "M4A ")

	tests := []struct {
		name   string
		data   []byte
		want   bool
		format string
	}{
		{"id3", pad([]byte("ID3"), 64), true, "mp3"},
		{"frame sync", pad([]byte{0xFF, 0xFB, 0x90, 0x64}, 64), true, "mp3"},
		{"ogg", pad([]byte("OggS"), 64), true, "ogg"},
		{"flac", pad([]byte("fLaC"), 64), true, "flac"},
		{"riff", pad([]byte("RIFF"), 64), true, "wav"},
		{"adpcm", adpcm, true, "adpcm"},
		{"aiff", aiff, true, "aiff"},
		{"m4a ftyp", m4a, true, "m4a"},
		{"json", []byte(`{"error":"not found","status":404}`), false, ""},
		{"html", []byte("<!DOCTYPE html><html><body>nope</body></html>"), false, ""},
		{"empty", nil, false, ""},
		{"short garbage", []byte{0x01, 0x02}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, ok := SniffAudio(tt.data)
			if ok != tt.want {
				t.Fatalf("SniffAudio(%s) = %v, want %v", tt.name, ok, tt.want)
			}
			if tt.format != "" && format != tt.format {
				t.Fatalf("expected format %q got %q", tt.format, format)
			}
		})
	}
}

func TestAudioLikeContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"audio/mpeg", true},
		{"audio/ogg; charset=binary", true},
		{"application/ogg", true},
		{"application/json", false},
		{"application/octet-stream", false},
		{"text/html; charset=utf-8", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := AudioLikeContentType(tt.ct); got != tt.want {
			t.Errorf("AudioLikeContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
