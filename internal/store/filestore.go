package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

// ErrReadOnly is returned for writes when the filesystem probe failed at
// startup. Persistence then degrades to memory-cache durability only.
var ErrReadOnly = errors.New("store: filesystem is read-only, local writes disabled")

const (
	usersFile   = "users.json"
	lobbiesFile = "lobbies.json"

	fileWriteAttempts = 3
	fileWriteBackoff  = 50 * time.Millisecond
)

type fileWrite struct {
	path string
	data []byte
}

// FileStore is the local fallback tier: two flat JSON documents whose writes
// are serialized through a single queue so a burst of saves cannot interleave
// partial writes. Assumes a single writer process.
type FileStore struct {
	dir      string
	readOnly bool
	log      *logrus.Logger

	mu      sync.RWMutex
	users   map[string]*models.User
	lobbies map[string]*models.Lobby

	writes chan fileWrite
	done   chan struct{}
}

// NewFileStore loads any existing documents from dir and starts the writer
// queue. A failed write probe marks the store read-only instead of failing:
// deployments on read-only filesystems accept data loss on restart.
func NewFileStore(dir string, log *logrus.Logger) *FileStore {
	fs := &FileStore{
		dir:     dir,
		log:     log,
		users:   make(map[string]*models.User),
		lobbies: make(map[string]*models.Lobby),
		writes:  make(chan fileWrite, 64),
		done:    make(chan struct{}),
	}

	fs.loadDocument(usersFile, &fs.users)
	fs.loadDocument(lobbiesFile, &fs.lobbies)

	if err := fs.probeWritable(); err != nil {
		log.WithError(err).Warn("file store is read-only, local writes disabled")
		fs.readOnly = true
		close(fs.done)
		return fs
	}

	go fs.writeLoop()
	return fs
}

func (fs *FileStore) probeWritable() error {
	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(fs.dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func (fs *FileStore) loadDocument(name string, dst any) {
	data, err := os.ReadFile(filepath.Join(fs.dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			fs.log.WithError(err).Warnf("file store: cannot read %s", name)
		}
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		fs.log.WithError(err).Warnf("file store: cannot decode %s", name)
	}
}

// writeLoop is the single writer. Each document write is retried with backoff
// for transient filesystem errors; the last resort is a direct non-atomic
// write so at least a torn file beats no file.
func (fs *FileStore) writeLoop() {
	defer close(fs.done)
	for w := range fs.writes {
		if err := fs.writeWithRetry(w); err != nil {
			fs.log.WithError(err).Errorf("file store: giving up on %s", w.path)
		}
	}
}

func (fs *FileStore) writeWithRetry(w fileWrite) error {
	var err error
	for attempt := 1; attempt <= fileWriteAttempts; attempt++ {
		tmp := w.path + ".tmp"
		if err = os.WriteFile(tmp, w.data, 0o644); err == nil {
			if err = os.Rename(tmp, w.path); err == nil {
				return nil
			}
		}
		time.Sleep(time.Duration(attempt) * fileWriteBackoff)
	}
	// Last resort: direct write, not atomic.
	if derr := os.WriteFile(w.path, w.data, 0o644); derr == nil {
		return nil
	}
	return fmt.Errorf("write %s failed after %d attempts: %w", w.path, fileWriteAttempts, err)
}

func (fs *FileStore) enqueue(name string, doc any) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	fs.writes <- fileWrite{path: filepath.Join(fs.dir, name), data: data}
	return nil
}

// Close drains the write queue and stops the writer.
func (fs *FileStore) Close() {
	if fs.readOnly {
		return
	}
	close(fs.writes)
	<-fs.done
}

func (fs *FileStore) Name() string { return "file" }

func (fs *FileStore) LoadUsers(ctx context.Context) ([]*models.User, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*models.User, 0, len(fs.users))
	for _, u := range fs.users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (fs *FileStore) LoadUser(ctx context.Context, id string) (*models.User, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	u, ok := fs.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (fs *FileStore) SaveUser(ctx context.Context, u *models.User) error {
	fs.mu.Lock()
	fs.users[u.ID] = u.Clone()
	fs.mu.Unlock()
	return fs.snapshotUsers()
}

func (fs *FileStore) SaveUsers(ctx context.Context, users []*models.User) error {
	fs.mu.Lock()
	for _, u := range users {
		fs.users[u.ID] = u.Clone()
	}
	fs.mu.Unlock()
	return fs.snapshotUsers()
}

func (fs *FileStore) snapshotUsers() error {
	fs.mu.RLock()
	doc := make(map[string]*models.User, len(fs.users))
	for id, u := range fs.users {
		doc[id] = u
	}
	fs.mu.RUnlock()
	return fs.enqueue(usersFile, doc)
}

func (fs *FileStore) LoadLobbies(ctx context.Context) ([]*models.Lobby, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*models.Lobby, 0, len(fs.lobbies))
	for _, l := range fs.lobbies {
		out = append(out, l.Clone())
	}
	return out, nil
}

func (fs *FileStore) LoadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	l, ok := fs.lobbies[code]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

// SaveLobby stores a clone so the queued JSON snapshot never marshals a lobby
// another goroutine is still mutating.
func (fs *FileStore) SaveLobby(ctx context.Context, l *models.Lobby) error {
	fs.mu.Lock()
	fs.lobbies[l.Code] = l.Clone()
	fs.mu.Unlock()
	return fs.snapshotLobbies()
}

func (fs *FileStore) DeleteLobby(ctx context.Context, code string) error {
	fs.mu.Lock()
	delete(fs.lobbies, code)
	fs.mu.Unlock()
	return fs.snapshotLobbies()
}

func (fs *FileStore) snapshotLobbies() error {
	fs.mu.RLock()
	doc := make(map[string]*models.Lobby, len(fs.lobbies))
	for code, l := range fs.lobbies {
		doc[code] = l
	}
	fs.mu.RUnlock()
	return fs.enqueue(lobbiesFile, doc)
}
