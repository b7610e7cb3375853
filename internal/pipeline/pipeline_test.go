package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"voxbot/internal/apierr"
	"voxbot/internal/messages"
	"voxbot/internal/transcode"
	"voxbot/internal/workpool"
)

type fakeTranscoder struct {
	fn    func(clip []byte) ([]byte, error)
	calls atomic.Int32
}

func (f *fakeTranscoder) Transcode(ctx context.Context, clip []byte) ([]byte, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(clip)
	}
	return append([]byte("wav:"), clip...), nil
}

type fakeTranscriber struct {
	fn    func(wav []byte) (string, error)
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f.calls.Add(1)
	return f.fn(wav)
}

type fakeCompleter struct {
	fn    func(prompt string) (string, error)
	calls atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	return f.fn(prompt)
}

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Reply(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func testCatalog() *messages.Catalog {
	return &messages.Catalog{
		Processing:   "ack",
		ContactingAI: "heard: {{text}}",
		Result:       "reply: {{text}}",
		NoSpeech:     "no speech",
		EmptyReply:   "empty reply",
		TooLong:      "too long (max {{limit}})",
		Errors: messages.Errors{
			Transcode:       "transcode failed: {{detail}}",
			API:             "api error at {{stage}}: {{detail}}",
			Transport:       "transport error at {{stage}}",
			InvalidResponse: "invalid response at {{stage}}",
			Internal:        "internal error at {{stage}}",
		},
	}
}

func startPool(t *testing.T) *workpool.Pool {
	t.Helper()
	p := workpool.New(2, nil)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func fetchOK(clip string) Fetcher {
	return func(ctx context.Context) ([]byte, error) { return []byte(clip), nil }
}

func echoTranscriber() *fakeTranscriber {
	return &fakeTranscriber{fn: func(wav []byte) (string, error) {
		return " " + strings.TrimPrefix(string(wav), "wav:") + " ", nil
	}}
}

func TestVoiceSuccessSendsThreeMessages(t *testing.T) {
	tc := &fakeTranscoder{}
	st := echoTranscriber()
	cc := &fakeCompleter{fn: func(prompt string) (string, error) { return "answer to " + prompt, nil }}
	v := NewVoice(tc, st, cc, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("hello"), r)

	if out.Kind != KindSuccess || out.Text != "answer to hello" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	want := []string{"ack", "heard: hello", "reply: answer to hello"}
	got := r.messages()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("messages = %q, want %q", got, want)
	}
}

func TestVoiceEmptyTranscriptionSkipsChat(t *testing.T) {
	st := &fakeTranscriber{fn: func([]byte) (string, error) { return " \n\t", nil }}
	cc := &fakeCompleter{fn: func(string) (string, error) { return "unused", nil }}
	v := NewVoice(&fakeTranscoder{}, st, cc, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("x"), r)

	if out.Kind != KindEmptyTranscription {
		t.Fatalf("expected empty transcription, got %+v", out)
	}
	if cc.calls.Load() != 0 {
		t.Errorf("chat must not be called, got %d calls", cc.calls.Load())
	}
	if got := r.messages(); len(got) != 2 || got[1] != "no speech" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestVoiceTranscodeFailure(t *testing.T) {
	tc := &fakeTranscoder{fn: func([]byte) ([]byte, error) {
		return nil, &transcode.Error{Backend: "ffmpeg", Err: errors.New("exit status 1")}
	}}
	st := echoTranscriber()
	cc := &fakeCompleter{fn: func(string) (string, error) { return "unused", nil }}
	v := NewVoice(tc, st, cc, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("x"), r)

	if out.Kind != KindTranscodeFailed || out.Stage != apierr.StageTranscode {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if st.calls.Load() != 0 || cc.calls.Load() != 0 {
		t.Error("no API call may follow a transcode failure")
	}
	got := r.messages()
	if len(got) != 2 || !strings.HasPrefix(got[1], "transcode failed:") {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestVoiceTranscriptionAPIError(t *testing.T) {
	st := &fakeTranscriber{fn: func([]byte) (string, error) {
		return "", apierr.NewAPIError(apierr.StageTranscription, 503, []byte("model loading"))
	}}
	cc := &fakeCompleter{fn: func(string) (string, error) { return "unused", nil }}
	v := NewVoice(&fakeTranscoder{}, st, cc, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("x"), r)

	if out.Kind != KindAPIError || out.Stage != apierr.StageTranscription {
		t.Fatalf("unexpected outcome %+v", out)
	}
	got := r.messages()
	if len(got) != 2 || got[1] != "api error at transcription: transcription: API error 503: model loading" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestVoiceChatServerError(t *testing.T) {
	cc := &fakeCompleter{fn: func(string) (string, error) {
		return "", &apierr.APIError{Stage: apierr.StageChat, StatusCode: 500}
	}}
	v := NewVoice(&fakeTranscoder{}, echoTranscriber(), cc, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("hi"), r)

	if out.Kind != KindAPIError || out.Stage != apierr.StageChat {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if cc.calls.Load() != 1 {
		t.Errorf("expected exactly one chat call, got %d", cc.calls.Load())
	}
	got := r.messages()
	if len(got) != 3 || got[2] != "api error at chat: chat: API error 500" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestVoiceEmptyReply(t *testing.T) {
	cc := &fakeCompleter{fn: func(string) (string, error) { return "", nil }}
	v := NewVoice(&fakeTranscoder{}, echoTranscriber(), cc, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("hi"), r)

	if out.Kind != KindEmptyReply {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := r.messages(); got[len(got)-1] != "empty reply" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestVoiceDownloadFailure(t *testing.T) {
	tc := &fakeTranscoder{}
	v := NewVoice(tc, echoTranscriber(), &fakeCompleter{}, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("telegram getFile: error 400")
	}, r)

	if out.Kind != KindTransportError || out.Stage != apierr.StageDownload {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if tc.calls.Load() != 0 {
		t.Error("transcoder must not run without a clip")
	}
	if got := r.messages(); len(got) != 1 || got[0] != "transport error at download" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestVoiceInvalidResponse(t *testing.T) {
	st := &fakeTranscriber{fn: func([]byte) (string, error) {
		return "", apierr.Invalid(apierr.StageTranscription, "response is not JSON")
	}}
	v := NewVoice(&fakeTranscoder{}, st, &fakeCompleter{}, startPool(t), testCatalog(), nil)

	out := v.Handle(context.Background(), fetchOK("x"), &recorder{})
	if out.Kind != KindInvalidResponse || out.Stage != apierr.StageTranscription {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestVoicePanicBecomesInternal(t *testing.T) {
	st := &fakeTranscriber{fn: func([]byte) (string, error) { panic("nil map") }}
	v := NewVoice(&fakeTranscoder{}, st, &fakeCompleter{}, startPool(t), testCatalog(), nil)

	r := &recorder{}
	out := v.Handle(context.Background(), fetchOK("x"), r)

	if out.Kind != KindInternal || out.Stage != apierr.StageTranscription {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := r.messages(); got[len(got)-1] != "internal error at transcription" {
		t.Errorf("unexpected messages %q", got)
	}

	out = v.Handle(context.Background(), func(ctx context.Context) ([]byte, error) { panic("fetch") }, r)
	if out.Kind != KindInternal || out.Stage != apierr.StageDownload {
		t.Fatalf("panic outside the pool not recovered: %+v", out)
	}
}

func TestVoiceConcurrentRunsDoNotCrossTalk(t *testing.T) {
	var seen sync.Map
	tc := &fakeTranscoder{fn: func(clip []byte) ([]byte, error) {
		if _, dup := seen.LoadOrStore(string(clip), true); dup {
			return nil, fmt.Errorf("clip %s transcoded twice", clip)
		}
		return append([]byte("wav:"), clip...), nil
	}}
	cc := &fakeCompleter{fn: func(prompt string) (string, error) { return "re " + prompt, nil }}
	v := NewVoice(tc, echoTranscriber(), cc, startPool(t), testCatalog(), nil)

	const users = 10
	recs := make([]*recorder, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		recs[i] = &recorder{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v.Handle(context.Background(), fetchOK(fmt.Sprintf("user%d", i)), recs[i])
		}(i)
	}
	wg.Wait()

	for i, r := range recs {
		want := fmt.Sprintf("reply: re user%d", i)
		got := r.messages()
		if len(got) != 3 || got[2] != want {
			t.Errorf("user %d got %q, want final %q", i, got, want)
		}
	}
}

func TestTextPipeline(t *testing.T) {
	cc := &fakeCompleter{fn: func(prompt string) (string, error) { return "re " + prompt, nil }}
	tp := NewText(cc, startPool(t), 300, nil)

	out := tp.Handle(context.Background(), "سلام")
	if out.Kind != KindSuccess || out.Text != "re سلام" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if out := tp.Handle(context.Background(), "/settings"); out.Kind != KindIgnored {
		t.Errorf("commands must be ignored, got %+v", out)
	}
	if got := Render(testCatalog(), Outcome{Kind: KindIgnored}, 300); got != "" {
		t.Errorf("ignored outcome must render nothing, got %q", got)
	}
}

func TestTextTooLongMakesNoCall(t *testing.T) {
	cc := &fakeCompleter{fn: func(string) (string, error) { return "unused", nil }}
	tp := NewText(cc, startPool(t), 300, nil)

	exact := strings.Repeat("ش", 300)
	if out := tp.Handle(context.Background(), exact); out.Kind != KindSuccess {
		t.Fatalf("300 runes must pass the gate, got %+v", out)
	}
	calls := cc.calls.Load()

	out := tp.Handle(context.Background(), exact+"x")
	if out.Kind != KindTooLong {
		t.Fatalf("expected too_long, got %+v", out)
	}
	if cc.calls.Load() != calls {
		t.Error("too-long text must not reach the chat API")
	}
	if got := Render(testCatalog(), out, tp.MaxRunes()); got != "too long (max 300)" {
		t.Errorf("unexpected render %q", got)
	}
}

func TestTextEmptyReplyAndErrors(t *testing.T) {
	cc := &fakeCompleter{fn: func(string) (string, error) { return "", nil }}
	tp := NewText(cc, startPool(t), 0, nil)
	if out := tp.Handle(context.Background(), "hi"); out.Kind != KindEmptyReply {
		t.Fatalf("expected empty reply, got %+v", out)
	}

	cc.fn = func(string) (string, error) {
		return "", &apierr.TransportError{Stage: apierr.StageChat, Err: errors.New("connection refused")}
	}
	out := tp.Handle(context.Background(), "hi")
	if out.Kind != KindTransportError || out.Stage != apierr.StageChat {
		t.Fatalf("expected transport error, got %+v", out)
	}
}
