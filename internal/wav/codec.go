// Package wav parses and rebuilds the RIFF/WAVE container used to stitch
// per-chunk synthesis results into one playable file.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader is returned when the outer RIFF/WAVE magic is wrong.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrIncomplete is returned when input ends before both the fmt and
	// data chunks were seen.
	ErrIncomplete = errors.New("incomplete")
	// ErrNoInput is returned by Combine on an empty input list.
	ErrNoInput = errors.New("no input containers")
)

// FormatDescriptor holds the canonical 16-byte fmt chunk fields.
type FormatDescriptor struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Compatible reports whether two descriptors may be concatenated. Byte rate
// and block align are derived fields and not compared.
func (f FormatDescriptor) Compatible(other FormatDescriptor) bool {
	return f.AudioFormat == other.AudioFormat &&
		f.NumChannels == other.NumChannels &&
		f.SampleRate == other.SampleRate &&
		f.BitsPerSample == other.BitsPerSample
}

// FormatMismatchError reports two segments with incompatible audio formats.
// Position is the 0-based index among the inputs after the first.
type FormatMismatchError struct {
	Position int
	Want     FormatDescriptor
	Got      FormatDescriptor
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("incompatible format at position %d: want %dHz/%dch/%dbit, got %dHz/%dch/%dbit",
		e.Position,
		e.Want.SampleRate, e.Want.NumChannels, e.Want.BitsPerSample,
		e.Got.SampleRate, e.Got.NumChannels, e.Got.BitsPerSample)
}

// Audio is one parsed container: the format descriptor plus the raw sample
// payload. The original bytes are retained so a single-input Combine is the
// identity.
type Audio struct {
	Format FormatDescriptor
	Data   []byte

	raw []byte
}

const (
	riffHeaderLen = 12
	fmtChunkLen   = 16
	// fixed overhead of a rebuilt container: "WAVE" + fmt chunk header and
	// payload + data chunk header
	combinedOverhead = 4 + 8 + fmtChunkLen + 8
)

// Parse walks the chunk list of a little-endian RIFF/WAVE container,
// extracting the fmt descriptor and the data payload. Chunks other than
// "fmt " and "data" are skipped by their declared size.
func Parse(b []byte) (Audio, error) {
	if len(b) < riffHeaderLen || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Audio{}, ErrInvalidHeader
	}

	var (
		audio   Audio
		gotFmt  bool
		gotData bool
	)
	pos := riffHeaderLen
	for pos+8 <= len(b) && !(gotFmt && gotData) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(b) {
			return Audio{}, ErrIncomplete
		}
		switch id {
		case "fmt ":
			if size < fmtChunkLen {
				return Audio{}, ErrIncomplete
			}
			audio.Format = FormatDescriptor{
				AudioFormat:   binary.LittleEndian.Uint16(b[body : body+2]),
				NumChannels:   binary.LittleEndian.Uint16(b[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(b[body+4 : body+8]),
				ByteRate:      binary.LittleEndian.Uint32(b[body+8 : body+12]),
				BlockAlign:    binary.LittleEndian.Uint16(b[body+12 : body+14]),
				BitsPerSample: binary.LittleEndian.Uint16(b[body+14 : body+16]),
			}
			gotFmt = true
		case "data":
			audio.Data = b[body : body+size]
			gotData = true
		}
		pos = body + size
	}
	if !gotFmt || !gotData {
		return Audio{}, ErrIncomplete
	}
	audio.raw = b
	return audio, nil
}

// Combine concatenates the raw payloads of the given containers in input
// order and wraps them in a freshly computed header carrying the first
// input's format descriptor. A single input passes through unchanged. The
// first format mismatch aborts with a FormatMismatchError; no partial output
// is ever returned.
func Combine(parts []Audio) ([]byte, error) {
	if len(parts) == 0 {
		return nil, ErrNoInput
	}
	if len(parts) == 1 {
		if parts[0].raw != nil {
			return parts[0].raw, nil
		}
		return Encode(parts[0].Format, parts[0].Data), nil
	}

	total := 0
	for i, p := range parts {
		if i > 0 && !parts[0].Format.Compatible(p.Format) {
			return nil, &FormatMismatchError{Position: i - 1, Want: parts[0].Format, Got: p.Format}
		}
		total += len(p.Data)
	}

	data := make([]byte, 0, total)
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return Encode(parts[0].Format, data), nil
}

// Encode builds a canonical single fmt + single data container around a raw
// sample payload. The RIFF size field is computed exactly.
func Encode(f FormatDescriptor, data []byte) []byte {
	out := make([]byte, 0, riffHeaderLen+8+fmtChunkLen+8+len(data))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(combinedOverhead+len(data)))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, fmtChunkLen)
	out = binary.LittleEndian.AppendUint16(out, f.AudioFormat)
	out = binary.LittleEndian.AppendUint16(out, f.NumChannels)
	out = binary.LittleEndian.AppendUint32(out, f.SampleRate)
	out = binary.LittleEndian.AppendUint32(out, f.ByteRate)
	out = binary.LittleEndian.AppendUint16(out, f.BlockAlign)
	out = binary.LittleEndian.AppendUint16(out, f.BitsPerSample)

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return out
}

// PCMFormat returns the descriptor for integer PCM audio with derived byte
// rate and block align fields filled in.
func PCMFormat(sampleRate, channels, bitsPerSample int) FormatDescriptor {
	blockAlign := channels * bitsPerSample / 8
	return FormatDescriptor{
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(bitsPerSample),
	}
}
