package audioconv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const wavFormatPCM = 1

// Format is the header summary of a WAV payload.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	PCM        bool
	Duration   time.Duration
}

// IsNormalized reports whether f is mono 16 kHz 16-bit linear PCM.
func (f Format) IsNormalized() bool {
	return f.PCM && f.Channels == 1 && f.SampleRate == TargetRate && f.BitDepth == 16
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d bit, pcm=%t", f.SampleRate, f.Channels, f.BitDepth, f.PCM)
}

// Inspect reads the RIFF header of a WAV payload.
func Inspect(data []byte) (Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Format{}, errors.New("invalid wav")
	}
	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		PCM:        dec.WavAudioFormat == wavFormatPCM,
	}
	if d, err := dec.Duration(); err == nil {
		f.Duration = d
	}
	return f, nil
}

// EncodeWAV renders mono float32 samples as a 16-bit PCM RIFF file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = TargetRate
	}
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(math16(s))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}

	out := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	data, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("read wav into memory: %w", err)
	}
	return data, nil
}

// DecodeWAV16k decodes a WAV payload into mono float32 samples at TargetRate.
func DecodeWAV16k(data []byte, opt Options) ([]float32, error) {
	return decodeWAVTo16k(bytes.NewReader(data), opt)
}

func math16(s float32) int16 {
	v := clamp(float64(s), -1.0, 1.0) * 32767
	return int16(v)
}
