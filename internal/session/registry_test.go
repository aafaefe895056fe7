package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/hooks"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMinter struct {
	mu  sync.Mutex
	ids []string
	err error
	n   int
}

func (f *fakeMinter) CreateConversation(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) > 0 {
		id := f.ids[0]
		f.ids = f.ids[1:]
		return id, nil
	}
	f.n++
	return fmt.Sprintf("conv-%d", f.n), nil
}

func testRegistry(m Minter, opts ...Option) *Registry {
	return NewRegistry(m, nil, logging.New(nil, "silent"), opts...)
}

// --- Create tests ---

func TestCreateStoresEmptySession(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := testRegistry(&fakeMinter{ids: []string{"abc"}}, WithClock(func() time.Time { return now }))

	id, err := r.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	s, err := r.History("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, now, s.CreatedAt)
	assert.Empty(t, s.Messages)
	assert.Equal(t, 1, r.Count())
}

func TestCreateUpstreamFailure(t *testing.T) {
	upstreamErr := &domain.UpstreamError{Op: "conversation.create", Status: 401}
	r := testRegistry(&fakeMinter{err: upstreamErr})

	id, err := r.Create(context.Background())
	assert.Empty(t, id)
	assert.ErrorIs(t, err, upstreamErr)
	assert.Equal(t, 0, r.Count())
}

func TestCreateEmptyIDFails(t *testing.T) {
	r := testRegistry(&fakeMinter{ids: []string{""}})

	_, err := r.Create(context.Background())
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 0, r.Count())
}

func TestCreateDuplicateIDRejected(t *testing.T) {
	r := testRegistry(&fakeMinter{ids: []string{"same", "same"}})

	_, err := r.Create(context.Background())
	require.NoError(t, err)
	r.AppendTurn("same", "q", "a")

	_, err = r.Create(context.Background())
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))

	s, err := r.History("same")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 2, "existing history must survive a duplicate id")
}

func TestCreateEmitsHook(t *testing.T) {
	h := hooks.NewManager(logging.New(nil, "silent"))
	got := make(chan string, 1)
	h.On(hooks.EventConversationCreated, "test", func(_ context.Context, p hooks.Payload) error {
		got <- p.Data["conversation_id"].(string)
		return nil
	})

	r := testRegistry(&fakeMinter{ids: []string{"hooked"}}, WithHooks(h))
	_, err := r.Create(context.Background())
	require.NoError(t, err)

	select {
	case id := <-got:
		assert.Equal(t, "hooked", id)
	case <-time.After(2 * time.Second):
		t.Fatal("hook not called")
	}
}

// --- AppendTurn / History tests ---

func TestAppendTurnOrder(t *testing.T) {
	r := testRegistry(&fakeMinter{})
	id, err := r.Create(context.Background())
	require.NoError(t, err)

	r.AppendTurn(id, "hi", "hello")
	r.AppendTurn(id, "where do I pay", "at the gate")

	s, err := r.History(id)
	require.NoError(t, err)
	require.Len(t, s.Messages, 4)
	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant},
		[]domain.Role{s.Messages[0].Role, s.Messages[1].Role, s.Messages[2].Role, s.Messages[3].Role})
	assert.Equal(t, "hi", s.Messages[0].Content)
	assert.Equal(t, "at the gate", s.Messages[3].Content)
}

func TestAppendTurnUnknownIDIsNoop(t *testing.T) {
	r := testRegistry(&fakeMinter{})
	r.AppendTurn("ghost", "q", "a")

	assert.Equal(t, 0, r.Count())
	_, err := r.History("ghost")
	assert.True(t, domain.IsNotFound(err))
}

func TestHistoryNotFound(t *testing.T) {
	r := testRegistry(&fakeMinter{})
	_, err := r.History("missing")

	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)
}

func TestHistoryReturnsCopy(t *testing.T) {
	r := testRegistry(&fakeMinter{})
	id, _ := r.Create(context.Background())
	r.AppendTurn(id, "q", "a")

	s, err := r.History(id)
	require.NoError(t, err)
	s.Messages[0].Content = "tampered"

	again, err := r.History(id)
	require.NoError(t, err)
	assert.Equal(t, "q", again.Messages[0].Content)
}

func TestConcurrentAppendsStayPaired(t *testing.T) {
	r := testRegistry(&fakeMinter{})
	id, _ := r.Create(context.Background())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.AppendTurn(id, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		}()
	}
	wg.Wait()

	s, err := r.History(id)
	require.NoError(t, err)
	require.Len(t, s.Messages, 100)
	for i := 0; i < len(s.Messages); i += 2 {
		assert.Equal(t, domain.RoleUser, s.Messages[i].Role)
		assert.Equal(t, domain.RoleAssistant, s.Messages[i+1].Role)
		assert.Equal(t, "a"+s.Messages[i].Content[1:], s.Messages[i+1].Content)
	}
}
