package probe

import (
	"bytes"
	"encoding/binary"
	"mime"
	"strings"

	"github.com/dhowden/tag"
)

// SniffAudio inspects the leading bytes of a body and reports whether they
// carry a known audio signature, along with a short format name. The table
// covers ID3, raw MP3 frame sync, Ogg, FLAC, RIFF/WAVE (plain and ADPCM),
// AIFF and the MP4 ftyp box; whatever the table misses is handed to the tag
// library for the container formats it knows.
func SniffAudio(b []byte) (string, bool) {
	if len(b) >= 3 && string(b[:3]) == "ID3" {
		return "mp3", true
	}
	// MPEG frame sync: eleven set bits straddling the first two bytes.
	if len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0 {
		return "mp3", true
	}
	if len(b) >= 4 {
		switch string(b[:4]) {
		case "OggS":
			return "ogg", true
		case "fLaC":
			return "flac", true
		case "RIFF":
			return riffFormat(b), true
		case "FORM":
			if len(b) >= 12 && (string(b[8:12]) == "AIFF" || string(b[8:12]) == "AIFC") {
				return "aiff", true
			}
		}
	}
	if len(b) >= 12 && string(b[4:8]) == "ftyp" {
		return "m4a", true
	}
	if len(b) >= 11 {
		if f, ft, err := tag.Identify(bytes.NewReader(b)); err == nil && f != tag.UnknownFormat {
			name := strings.ToLower(string(ft))
			if name == "" {
				name = strings.ToLower(string(f))
			}
			return name, true
		}
	}
	return "", false
}

// riffFormat refines a RIFF container: a WAVE fmt chunk with an ADPCM format
// tag is reported separately, everything else counts as plain wav.
func riffFormat(b []byte) string {
	if len(b) >= 22 && string(b[8:12]) == "WAVE" && string(b[12:16]) == "fmt " {
		switch binary.LittleEndian.Uint16(b[20:22]) {
		case 0x0002, 0x0011: // MS / IMA ADPCM
			return "adpcm"
		}
	}
	return "wav"
}

// AudioLikeContentType reports whether a declared content type plausibly
// names audio. Parameters are stripped first; an empty or unparseable type
// is not audio-like (it is ambiguous, which a matching signature overrides).
func AudioLikeContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mt, "audio/") {
		return true
	}
	switch mt {
	case "application/ogg", "application/x-flac":
		return true
	}
	return false
}
