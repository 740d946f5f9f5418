package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var (
	// ErrInvalidWAV is returned for data that is not a RIFF/WAVE stream
	ErrInvalidWAV = errors.New("invalid WAV file")
	// ErrUnsupportedWAV is returned for WAV encodings other than 16-bit PCM mono/stereo
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Track is a fully decoded PCM-16 track held in memory so playback never touches
// the filesystem from the audio callback
type Track struct {
	Name       string
	Samples    []int16 // interleaved
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames in the track
func (t *Track) Frames() int {
	if t.Channels == 0 {
		return 0
	}
	return len(t.Samples) / t.Channels
}

// Duration returns the playing time of the track
func (t *Track) Duration() time.Duration {
	if t.SampleRate == 0 {
		return 0
	}
	return time.Duration(t.Frames()) * time.Second / time.Duration(t.SampleRate)
}

// EncodeWAV encodes interleaved PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}

	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}

	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a WAV stream into a Track. Chunks other than "fmt " and
// "data" (LIST, fact, cue and so on) are skipped.
func DecodeWAV(data []byte) (*Track, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrInvalidWAV, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var (
		track   Track
		haveFmt bool
		pcm     []byte
	)

	r := bytes.NewReader(data[12:])
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: truncated chunk header", ErrInvalidWAV)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: truncated chunk size", ErrInvalidWAV)
		}

		body := make([]byte, size)
		n, err := io.ReadFull(r, body)
		if err != nil {
			// Some writers leave a stale size on the trailing data chunk
			if string(id[:]) != "data" {
				return nil, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, string(id[:]))
			}
			body = body[:n]
		}
		if size%2 == 1 {
			r.ReadByte()
		}

		switch string(id[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			track.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			track.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])

			if format != wavFormatPCM && format != wavFormatExtensible {
				return nil, fmt.Errorf("%w: audio format %d (only PCM is supported)", ErrUnsupportedWAV, format)
			}
			if bits != 16 {
				return nil, fmt.Errorf("%w: bit depth %d (only 16-bit is supported)", ErrUnsupportedWAV, bits)
			}
			if track.Channels != 1 && track.Channels != 2 {
				return nil, fmt.Errorf("%w: channel count %d (mono or stereo only)", ErrUnsupportedWAV, track.Channels)
			}
			if track.SampleRate <= 0 {
				return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidWAV, track.SampleRate)
			}
			haveFmt = true
		case "data":
			pcm = body
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}

	if pcm == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	// Drop any partial trailing frame
	frameBytes := 2 * track.Channels
	pcm = pcm[:len(pcm)-len(pcm)%frameBytes]

	track.Samples = make([]int16, len(pcm)/2)
	for i := range track.Samples {
		track.Samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	return &track, nil
}

// LoadWAV reads and decodes a WAV file from disk
func LoadWAV(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	track, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	track.Name = path

	return track, nil
}
