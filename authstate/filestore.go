package authstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrInvalidSealKey is returned when the token-sealing key is not the
// required secretbox length.
var ErrInvalidSealKey = errors.New("seal key must be exactly 32 bytes")

// errSealedTokenCorrupt is returned when a stored token cannot be opened,
// either because it was tampered with or the key changed.
var errSealedTokenCorrupt = errors.New("sealed token corrupt")

// ErrInvalidSessionID is returned for session IDs that cannot serve as a
// file name inside the state directory. The gateway only hands out UUIDs,
// so anything with a path separator in it is hostile input.
var ErrInvalidSessionID = errors.New("invalid session id")

const sealNonceLength = 24

// FileStore keeps one JSON record per session under a state directory. The
// upstream tokens are sealed with NaCl secretbox before hitting disk, so a
// leaked state directory does not leak bearer credentials. FileStore does
// not implement Watcher; deployments that need cross-instance sync use the
// Redis backend.
type FileStore struct {
	dir string
	key [32]byte
	mu  sync.Mutex
}

// NewFileStore creates the state directory if needed. key must be 32 bytes.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, ErrInvalidSealKey
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fs := &FileStore{dir: dir}
	copy(fs.key[:], key)
	return fs, nil
}

func (s *FileStore) Load(_ context.Context, sid string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(sid)
}

func (s *FileStore) SetLoggedIn(_ context.Context, sid string, loggedIn bool) error {
	return s.update(sid, func(rec *Record) { rec.LoggedIn = loggedIn })
}

func (s *FileStore) SetEmail(_ context.Context, sid, email string) error {
	return s.update(sid, func(rec *Record) { rec.Email = email })
}

func (s *FileStore) SetTokens(_ context.Context, sid, access, refresh string) error {
	return s.update(sid, func(rec *Record) {
		rec.AccessToken = access
		rec.RefreshToken = refresh
	})
}

func (s *FileStore) Clear(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.path(sid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) update(sid string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(sid)
	if err != nil {
		// A corrupt record must not wedge the session forever; start over.
		rec = Record{}
	}
	mutate(&rec)
	return s.write(sid, rec)
}

func (s *FileStore) read(sid string) (Record, error) {
	path, err := s.path(sid)
	if err != nil {
		return Record{}, err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session record: %w", err)
	}
	if rec.AccessToken, err = s.open(rec.AccessToken); err != nil {
		return Record{}, err
	}
	if rec.RefreshToken, err = s.open(rec.RefreshToken); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) write(sid string, rec Record) error {
	sealed := rec
	var err error
	if sealed.AccessToken, err = s.seal(rec.AccessToken); err != nil {
		return err
	}
	if sealed.RefreshToken, err = s.seal(rec.RefreshToken); err != nil {
		return err
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	path, err := s.path(sid)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// path maps a session ID to its record file. IDs that could escape the
// state directory are rejected outright rather than sanitized.
func (s *FileStore) path(sid string) (string, error) {
	if sid == "" || sid == "." || sid == ".." || strings.ContainsAny(sid, `/\`) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(s.dir, sid+".json"), nil
}

func (s *FileStore) seal(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	var nonce [sealNonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(token), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *FileStore) open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < sealNonceLength {
		return "", errSealedTokenCorrupt
	}
	var nonce [sealNonceLength]byte
	copy(nonce[:], raw[:sealNonceLength])
	opened, ok := secretbox.Open(nil, raw[sealNonceLength:], &nonce, &s.key)
	if !ok {
		return "", errSealedTokenCorrupt
	}
	return string(opened), nil
}
