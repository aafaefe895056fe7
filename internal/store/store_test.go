package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(MemoryDSN, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- schema tests ---

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	for _, table := range []string{"conversations", "messages"} {
		var name string
		require.NoError(t, db.SQL().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name), table)
	}
}

func TestOpenFileReopensAtSameVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "xiaoji.db")
	log := logging.New(nil, "silent")

	db, err := Open(path, log)
	require.NoError(t, err)
	require.NoError(t, NewConversationStore(db).Insert(domain.Session{ID: "kept", CreatedAt: time.Now()}))
	require.NoError(t, db.Close())
	assert.FileExists(t, path)

	again, err := Open(path, log)
	require.NoError(t, err)
	defer again.Close()
	v, err := again.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	_, ok, err := NewConversationStore(again).Get("kept")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpgradeIsNoOpAtLatest(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.upgrade(context.Background()))
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestOpenUnwritableDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := Open(filepath.Join(file, "sub", "x.db"), logging.New(nil, "silent"))
	assert.Error(t, err)
}

// --- Conversation store tests ---

func TestConversationStore_InsertAndGet(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	created := time.Date(2026, 5, 4, 10, 30, 0, 123, time.UTC)

	require.NoError(t, cs.Insert(domain.Session{ID: "c-1", CreatedAt: created}))

	got, ok, err := cs.Get("c-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c-1", got.ID)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)
}

func TestConversationStore_InsertDuplicate(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	require.NoError(t, cs.Insert(domain.Session{ID: "dup", CreatedAt: time.Now()}))

	err := cs.Insert(domain.Session{ID: "dup", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, session.ErrExists)
}

func TestConversationStore_Get_NotFound(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	_, ok, err := cs.Get("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConversationStore_Append(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	require.NoError(t, cs.Insert(domain.Session{ID: "c-1", CreatedAt: time.Now()}))

	at := time.Now()
	ok, err := cs.Append("c-1", domain.Turn("几点关门", "24小时营业", at)...)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := cs.Get("c-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "几点关门", got.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "24小时营业", got.Messages[1].Content)
	assert.True(t, at.Equal(got.Messages[1].Timestamp))
}

func TestConversationStore_Append_Unknown(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	ok, err := cs.Append("ghost", domain.Message{Role: domain.RoleUser, Content: "x"})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := cs.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConversationStore_Count(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	for i := range 3 {
		require.NoError(t, cs.Insert(domain.Session{ID: fmt.Sprintf("c-%d", i), CreatedAt: time.Now()}))
	}
	n, err := cs.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConversationStore_ConcurrentAppend(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	require.NoError(t, cs.Insert(domain.Session{ID: "c", CreatedAt: time.Now()}))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cs.Append("c", domain.Turn(fmt.Sprint("q", i), fmt.Sprint("a", i), time.Now())...)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := cs.Get("c")
	require.NoError(t, err)
	require.Len(t, got.Messages, 40)
	for i := 0; i < 40; i += 2 {
		assert.Equal(t, "a"+got.Messages[i].Content[1:], got.Messages[i+1].Content)
	}
}

func TestConversationStore_BacksRegistry(t *testing.T) {
	cs := NewConversationStore(testDB(t))
	r := session.NewRegistry(staticMinter("sq-1"), cs, logging.New(nil, "silent"))

	id, err := r.Create(t.Context())
	require.NoError(t, err)
	r.AppendTurn(id, "hi", "hello")

	s, err := r.History(id)
	require.NoError(t, err)
	assert.Len(t, s.Messages, 2)
	assert.Equal(t, 1, r.Count())
}

type staticMinter string

func (m staticMinter) CreateConversation(_ context.Context) (string, error) {
	return string(m), nil
}
