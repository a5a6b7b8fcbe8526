package frontend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Audio is a mono signal with samples in [-1, 1).
type Audio struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the length in seconds.
func (a Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

type chunkHeader struct {
	ID   [4]byte
	Size uint32
}

type pcmFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ReadWAV reads 16-bit PCM mono RIFF data. Chunks other than fmt and data
// are skipped.
func ReadWAV(r io.ReadSeeker) (Audio, error) {
	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return Audio{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return Audio{}, errors.New("not a RIFF/WAVE stream")
	}

	var (
		format *pcmFormat
		audio  Audio
	)
	for {
		var ch chunkHeader
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Audio{}, fmt.Errorf("read chunk header: %w", err)
		}
		switch string(ch.ID[:]) {
		case "fmt ":
			f, err := readFormat(r, ch.Size)
			if err != nil {
				return Audio{}, err
			}
			format = &f
			audio.SampleRate = int(f.SampleRate)
		case "data":
			if format == nil {
				return Audio{}, errors.New("data chunk before fmt chunk")
			}
			raw := make([]int16, ch.Size/2)
			if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
				return Audio{}, fmt.Errorf("read pcm data: %w", err)
			}
			audio.Samples = make([]float64, len(raw))
			for i, s := range raw {
				audio.Samples[i] = float64(s) / 32768
			}
			return audio, nil
		default:
			if err := skip(r, ch.Size); err != nil {
				return Audio{}, fmt.Errorf("skip chunk %q: %w", ch.ID[:], err)
			}
		}
	}
	if format == nil {
		return Audio{}, errors.New("missing fmt chunk")
	}
	return Audio{}, errors.New("missing data chunk")
}

// skip moves past a chunk body, which is padded to an even length.
func skip(r io.Seeker, size uint32) error {
	_, err := r.Seek(int64(size+size%2), io.SeekCurrent)
	return err
}

func readFormat(r io.ReadSeeker, size uint32) (pcmFormat, error) {
	var f pcmFormat
	if size < 16 {
		return f, fmt.Errorf("fmt chunk of %d bytes", size)
	}
	if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
		return f, fmt.Errorf("read fmt chunk: %w", err)
	}
	switch {
	case f.AudioFormat != 1:
		return f, fmt.Errorf("audio format %d: only PCM is supported", f.AudioFormat)
	case f.Channels != 1:
		return f, fmt.Errorf("%d channels: only mono is supported", f.Channels)
	case f.BitsPerSample != 16:
		return f, fmt.Errorf("%d bits per sample: only 16 is supported", f.BitsPerSample)
	case f.SampleRate == 0:
		return f, errors.New("sample rate 0")
	}
	if size > 16 {
		if err := skip(r, size-16); err != nil {
			return f, fmt.Errorf("skip fmt extension: %w", err)
		}
	}
	return f, nil
}

// ReadWAVFile opens path and reads it with ReadWAV.
func ReadWAVFile(path string) (Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return Audio{}, err
	}
	defer f.Close()
	a, err := ReadWAV(f)
	if err != nil {
		return Audio{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// WriteWAV encodes a as 16-bit PCM mono. Samples are clipped to [-1, 1].
func WriteWAV(w io.Writer, a Audio) error {
	raw := make([]int16, len(a.Samples))
	for i, s := range a.Samples {
		raw[i] = int16(max(-32768, min(32767, s*32768)))
	}
	dataSize := uint32(2 * len(raw))
	hdr := struct {
		RIFF   [4]byte
		Size   uint32
		WAVE   [4]byte
		Fmt    chunkHeader
		Format pcmFormat
		Data   chunkHeader
	}{
		RIFF: [4]byte{'R', 'I', 'F', 'F'},
		Size: 36 + dataSize,
		WAVE: [4]byte{'W', 'A', 'V', 'E'},
		Fmt:  chunkHeader{ID: [4]byte{'f', 'm', 't', ' '}, Size: 16},
		Format: pcmFormat{
			AudioFormat:   1,
			Channels:      1,
			SampleRate:    uint32(a.SampleRate),
			ByteRate:      uint32(a.SampleRate) * 2,
			BlockAlign:    2,
			BitsPerSample: 16,
		},
		Data: chunkHeader{ID: [4]byte{'d', 'a', 't', 'a'}, Size: dataSize},
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, raw)
}
