// Package local runs speech recognition in-process with whisper.cpp.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"voxbot/pkg/audioconv"
)

type Options struct {
	Language        string // "auto", "en", "fa", ...
	TranslateToEn   bool
	Threads         int // <=0 => NumCPU()
	InitialPrompt   string
	BeamSize        int // 0 = greedy
	SplitOnWord     bool
	Temperature     float32
	TemperatureStep float32
	Duration        time.Duration
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Whisper runs a local whisper.cpp model. Calls are serialized; the model is
// shared but each call gets its own decoding context.
type Whisper struct {
	mu    sync.Mutex
	model whisper.Model
	opt   Options
}

func NewWhisper(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}

// Transcribe decodes the WAV payload and runs the model over it.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	pcm, err := audioconv.DecodeWAV16k(wav, audioconv.Options{})
	if err != nil {
		return "", fmt.Errorf("decode wav: %w", err)
	}
	res, err := w.TranscribePCM(ctx, pcm, w.opt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// pcm16k must be mono @ 16 kHz, float32 in [-1, 1]
func (w *Whisper) TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == nil {
		return Result{}, errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return Result{}, nil
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	if opt.Duration > 0 {
		wctx.SetDuration(opt.Duration)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.SplitOnWord {
		wctx.SetSplitOnWord(true)
	}
	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}
	if opt.TemperatureStep != 0 {
		wctx.SetTemperatureFallback(opt.TemperatureStep)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs  []Segment
		parts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		parts = append(parts, strings.TrimSpace(s.Text))
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}
