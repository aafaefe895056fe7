package widget

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/xiaoji/internal/logging"
)

type fakeRecorder struct {
	startErr error
	stopErr  error
	started  int
}

func (f *fakeRecorder) Start(context.Context) error {
	f.started++
	return f.startErr
}

func (f *fakeRecorder) Stop(context.Context) ([]byte, string, error) {
	return []byte("pcm"), "audio/webm", f.stopErr
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Recognize(context.Context, []byte, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func newVoice(t *testing.T, rec Recorder, local, remote Transcriber) (*VoiceCapture, *harness) {
	t.Helper()
	h := started(t, &fakeAPI{})
	return NewVoiceCapture(h.orch, rec, local, remote, logging.New(nil, "silent")), h
}

func TestVoicePrefersLocal(t *testing.T) {
	local := &fakeTranscriber{text: " 本地识别 "}
	remote := &fakeTranscriber{text: "远程"}
	v, h := newVoice(t, &fakeRecorder{}, local, remote)
	ctx := context.Background()

	require.NoError(t, v.Press(ctx))
	assert.True(t, v.Recording())
	text, err := v.Release(ctx)
	require.NoError(t, err)

	assert.Equal(t, "本地识别", text)
	assert.Equal(t, "本地识别", h.orch.Input())
	assert.Equal(t, "本地识别", h.ui.Snapshot().Input)
	assert.True(t, h.ui.Snapshot().SendEnabled)
	assert.Zero(t, remote.calls)
	assert.Zero(t, h.api.chatCount())
}

func TestVoiceFallsBackToRemote(t *testing.T) {
	for name, local := range map[string]Transcriber{
		"no local":    nil,
		"local error": &fakeTranscriber{err: errors.New("unsupported")},
		"local empty": &fakeTranscriber{text: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			remote := &fakeTranscriber{text: "远程识别"}
			v, h := newVoice(t, &fakeRecorder{}, local, remote)

			require.NoError(t, v.Press(context.Background()))
			text, err := v.Release(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "远程识别", text)
			assert.Equal(t, "远程识别", h.orch.Input())
			assert.Equal(t, 1, remote.calls)
		})
	}
}

func TestVoiceBothFail(t *testing.T) {
	v, h := newVoice(t, &fakeRecorder{}, &fakeTranscriber{err: errors.New("x")}, &fakeTranscriber{err: errors.New("y")})

	require.NoError(t, v.Press(context.Background()))
	_, err := v.Release(context.Background())
	require.Error(t, err)

	assert.Equal(t, MsgVoiceFailed, h.ui.Snapshot().Toast)
	assert.Empty(t, h.orch.Input())
	assert.Equal(t, Idle, h.orch.State())
}

func TestVoiceEmptyRemoteTranscriptFails(t *testing.T) {
	v, h := newVoice(t, &fakeRecorder{}, nil, &fakeTranscriber{text: ""})

	require.NoError(t, v.Press(context.Background()))
	_, err := v.Release(context.Background())
	require.Error(t, err)
	assert.Equal(t, MsgVoiceFailed, h.ui.Snapshot().Toast)
}

func TestVoiceRecorderErrors(t *testing.T) {
	rec := &fakeRecorder{startErr: errors.New("permission denied")}
	v, h := newVoice(t, rec, nil, &fakeTranscriber{text: "x"})

	require.Error(t, v.Press(context.Background()))
	assert.False(t, v.Recording())
	assert.Equal(t, MsgMicFailed, h.ui.Snapshot().Toast)

	_, err := v.Release(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)

	rec.startErr, rec.stopErr = nil, errors.New("device lost")
	require.NoError(t, v.Press(context.Background()))
	require.NoError(t, v.Press(context.Background()))
	assert.Equal(t, 2, rec.started)
	_, err = v.Release(context.Background())
	require.Error(t, err)
	assert.Equal(t, MsgVoiceFailed, h.ui.Snapshot().Toast)
}

func TestFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	wav := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00")
	require.NoError(t, os.WriteFile(path, wav, 0o600))

	rec := FileRecorder{Path: path}
	require.NoError(t, rec.Start(context.Background()))
	data, mime, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wav, data)
	assert.Equal(t, "audio/wav", mime)

	assert.Error(t, FileRecorder{Path: filepath.Join(t.TempDir(), "missing")}.Start(context.Background()))
}
