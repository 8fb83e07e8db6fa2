package session

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundtrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))

	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour * 24)
	sess := FromHTTPCookies([]*http.Cookie{
		{Name: "sid", Value: "abc123", Domain: ".example.com", Path: "/", Secure: true, Expires: expires},
		{Name: "lb", Value: "node-4"},
	}, now)

	err := store.Save(sess)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	require.NotNil(t, loaded)
	require.Equal(t, sess.Cookies, loaded.Cookies)
	require.True(t, sess.CreatedAt.Equal(loaded.CreatedAt))

	restored := loaded.HTTPCookies()
	require.Len(t, restored, 2)
	require.Equal(t, "sid", restored[0].Name)
	require.Equal(t, "abc123", restored[0].Value)
	require.True(t, restored[0].Secure)
	require.True(t, restored[0].Expires.Equal(expires))
}

func TestLoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist.json"))

	sess, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	require.Nil(t, sess)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	err := os.WriteFile(path, []byte("{not json"), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	sess, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	require.Nil(t, sess)
}

func TestFreshness(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	require.False(t, store.Fresh(nil, now))

	young := &Session{CreatedAt: now.Add(-time.Hour)}
	require.True(t, store.Fresh(young, now))

	// 30 hours old, past the freshness hint
	stale := &Session{CreatedAt: now.Add(-time.Hour * 30)}
	require.False(t, store.Fresh(stale, now))

	hinted := &Session{CreatedAt: now}
	past := now.Add(-time.Minute)
	hinted.ExpiresAt = &past
	require.False(t, store.Fresh(hinted, now))
}
