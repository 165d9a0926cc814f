package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("final OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name)
	if err != nil {
		t.Errorf("kv table not found after idempotent opens: %v", err)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSQLite_ValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "marketplace_cart", `[{"id":"1"}]`))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	value, ok, err := s2.Get(ctx, "marketplace_cart")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"1"}]`, value)
}

func TestSQLite_ClosedDatabaseIsUnavailable(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "get", se.Op)
	assert.Equal(t, "k", se.Key)
}

// kvContract runs the behavior every backend must share.
func kvContract(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok, "absent key must report ok=false")

	require.NoError(t, kv.Set(ctx, "k", "v1"))
	require.NoError(t, kv.Set(ctx, "k", "v2"))
	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, kv.Set(ctx, "empty", ""))
	v, ok, err = kv.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, ok, "empty value is still present")
	assert.Equal(t, "", v)

	require.NoError(t, kv.Remove(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Remove(ctx, "never-set"), "removing an absent key is not an error")
}

func TestSQLite_Contract(t *testing.T) {
	kvContract(t, createTestStore(t))
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	kvContract(t, s)
}

func TestMemory_Contract(t *testing.T) {
	kvContract(t, NewMemory())
}

func TestMemory_FaultInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", "v"))

	quota := errors.New("quota exceeded")
	m.FailWrites(quota)
	err := m.Set(ctx, "k", "w")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, quota)
	assert.Error(t, m.Remove(ctx, "k"))

	m.FailReads(quota)
	_, _, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	m.FailReads(nil)
	m.FailWrites(nil)
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v, "failed writes must not change the stored value")
	assert.Equal(t, 2, m.SetCalls())
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: "set", Key: "marketplace_cart", Err: errors.New("disk full")}
	assert.Equal(t, `store set "marketplace_cart": disk full`, err.Error())

	err = &Error{Op: "open", Err: errors.New("bad path")}
	assert.Equal(t, "store open: bad path", err.Error())
}

func TestWrap_DoesNotDoubleWrap(t *testing.T) {
	inner := &Error{Op: "get", Key: "a", Err: errors.New("x")}
	assert.Same(t, inner, wrap("set", "b", inner))
	assert.NoError(t, wrap("set", "b", nil))
}
