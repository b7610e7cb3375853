// Package stt turns normalized WAV audio into text.
package stt

import "context"

// Transcriber produces a transcript from a mono 16 kHz 16-bit PCM WAV file.
// An empty transcript means no speech was recognized; it is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
