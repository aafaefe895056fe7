package widget

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/soyeahso/xiaoji/internal/logging"
)

// ErrNotRecording is returned by Release without a preceding Press.
var ErrNotRecording = errors.New("not recording")

// Recorder captures audio between Start and Stop.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (audio []byte, mime string, err error)
}

// Transcriber turns captured audio into text. The on-device recognizer
// and the server's /api/speech/recognize client both satisfy it.
type Transcriber interface {
	Recognize(ctx context.Context, audio []byte, mime string) (string, error)
}

// VoiceCapture records while the mic button is held and places the
// transcript into the input box. It never submits.
type VoiceCapture struct {
	orch   *Orchestrator
	rec    Recorder
	local  Transcriber
	remote Transcriber
	log    *logging.Logger

	mu        sync.Mutex
	recording bool
}

// NewVoiceCapture creates a capture feeding o. local may be nil.
func NewVoiceCapture(o *Orchestrator, rec Recorder, local, remote Transcriber, log *logging.Logger) *VoiceCapture {
	return &VoiceCapture{orch: o, rec: rec, local: local, remote: remote, log: log.Sub("voice")}
}

// Recording reports whether a capture is in progress.
func (v *VoiceCapture) Recording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recording
}

// Press starts recording. A second Press while recording is ignored.
func (v *VoiceCapture) Press(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.recording {
		return nil
	}
	if err := v.rec.Start(ctx); err != nil {
		v.log.Error().Err(err).Msg("recorder start failed")
		v.orch.showError(MsgMicFailed)
		return errors.Wrap(err, "start recorder")
	}
	v.recording = true
	return nil
}

// Release stops recording and transcribes the audio, on-device first and
// then through the server.
func (v *VoiceCapture) Release(ctx context.Context) (string, error) {
	v.mu.Lock()
	if !v.recording {
		v.mu.Unlock()
		return "", ErrNotRecording
	}
	v.recording = false
	v.mu.Unlock()

	audio, mime, err := v.rec.Stop(ctx)
	if err != nil {
		v.orch.showError(MsgVoiceFailed)
		return "", errors.Wrap(err, "stop recorder")
	}

	text, err := v.transcribe(ctx, audio, mime)
	if err != nil {
		v.log.Error().Err(err).Int("bytes", len(audio)).Msg("speech recognition failed")
		v.orch.showError(MsgVoiceFailed)
		return "", err
	}

	v.orch.SetInput(text)
	return text, nil
}

func (v *VoiceCapture) transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	if v.local != nil {
		text, err := v.local.Recognize(ctx, audio, mime)
		if text = strings.TrimSpace(text); err == nil && text != "" {
			return text, nil
		}
		v.log.Debug().Err(err).Msg("on-device recognition unavailable, using server")
	}

	text, err := v.remote.Recognize(ctx, audio, mime)
	if err != nil {
		return "", errors.Wrap(err, "remote recognition")
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}

// FileRecorder replays a recorded audio file as a capture.
type FileRecorder struct {
	Path string
}

func (f FileRecorder) Start(context.Context) error {
	_, err := os.Stat(f.Path)
	return err
}

// Stop reads the file and sniffs its MIME type.
func (f FileRecorder) Stop(context.Context) ([]byte, string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}
