package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// the portal's own session lifetime is observed to be ~24h, past this
// age a stored session goes straight to re-login instead of wasting a
// validation probe on it
const DefaultMaxAge = time.Hour * 20

// FileStore keeps the serialized session at a single path. deleting the
// file is the documented way to force a fresh login on the next cycle.
type FileStore struct {
	Path   string
	MaxAge time.Duration
}

func NewFileStore(path string) FileStore {
	return FileStore{Path: path, MaxAge: DefaultMaxAge}
}

// Load returns nil (and no error) when the file is missing or corrupt,
// both just mean "no stored session".
func (s FileStore) Load() (*Session, error) {
	raw, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	err = json.Unmarshal(raw, &sess)
	if err != nil {
		slog.Warn("stored session is corrupt, ignoring it", "path", s.Path, "err", err)
		return nil, nil
	}
	return &sess, nil
}

// Save writes the session atomically (temp file then rename) so a crash
// mid-write never corrupts the stored session.
func (s FileStore) Save(sess *Session) error {
	raw, err := sess.marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(raw)
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Chmod(0o600)
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

// Fresh reports whether the session is young enough to be worth a
// validation probe. this is a hint only, a fresh session still gets
// probed before it is trusted.
func (s FileStore) Fresh(sess *Session, now time.Time) bool {
	if sess == nil {
		return false
	}
	if sess.ExpiresAt != nil && now.After(*sess.ExpiresAt) {
		return false
	}
	maxAge := s.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	return now.Sub(sess.CreatedAt) < maxAge
}
