package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// TargetRate is the sample rate every decoder resamples to.
const TargetRate = 16000

var ErrUnsupported = errors.New("audioconv: unsupported format")

type Options struct {
	MaxSamples int
}

// Container identifies a compressed input format.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerOgg     Container = "ogg"
)

// Sniff guesses the container from the first bytes of a clip.
func Sniff(head []byte) Container {
	switch {
	case len(head) >= 4 && string(head[:4]) == "RIFF":
		return ContainerWAV
	case len(head) >= 4 && string(head[:4]) == "OggS":
		return ContainerOgg
	case len(head) >= 3 && string(head[:3]) == "ID3":
		return ContainerMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return ContainerMP3
	}
	return ContainerUnknown
}

// ContainerFromExt maps a file extension to a container.
func ContainerFromExt(path string) Container {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return ContainerWAV
	case ".mp3":
		return ContainerMP3
	case ".ogg", ".oga", ".opus":
		return ContainerOgg
	}
	return ContainerUnknown
}

// DecodeFile decodes a wav/mp3/ogg file into mono float32 samples at TargetRate.
// The extension wins when it is known; otherwise the header is sniffed.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kind := ContainerFromExt(path)
	if kind == ContainerUnknown {
		br := bufio.NewReader(f)
		magic, _ := br.Peek(4)
		kind = Sniff(magic)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch kind {
	case ContainerWAV:
		return decodeWAVTo16k(f, opt)
	case ContainerMP3:
		return decodeMP3To16k(f, opt)
	case ContainerOgg:
		return decodeOggTo16k(f, opt)
	default:
		return nil, fmt.Errorf("%w: %s (supported: wav/mp3/ogg-vorbis/ogg-opus)", ErrUnsupported, filepath.Ext(path))
	}
}

// Telegram voice notes are Ogg Opus, regular audio files are often Ogg Vorbis.
func decodeOggTo16k(f *os.File, opt Options) ([]float32, error) {
	s, vorbisErr := decodeOggVorbisTo16k(f, opt)
	if vorbisErr == nil {
		return s, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	s, opusErr := decodeOggOpusTo16k(f, opt)
	if opusErr != nil {
		return nil, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus: %w", vorbisErr, opusErr)
	}
	return s, nil
}

func decodeWAVTo16k(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return finish(x, ch, sr, opt), nil
}

func decodeMP3To16k(r io.Reader, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	// go-mp3 always emits interleaved stereo
	return finish(int16SliceToFloat32(ints), 2, sr, opt), nil
}

func decodeOggVorbisTo16k(r io.Reader, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return finish(pcm, format.Channels, format.SampleRate, opt), nil
}

func decodeOggOpusTo16k(rs io.ReadSeeker, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// libopusfile always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(pcm48) == 0 {
		return nil, errors.New("empty ogg/opus stream")
	}
	return finish(pcm48, ch, 48000, opt), nil
}

func finish(x []float32, channels, rate int, opt Options) []float32 {
	if channels > 1 {
		x = downmixInterleaved(x, channels)
	}
	if rate != TargetRate {
		x = resampleLinear(x, rate, TargetRate)
	}
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
