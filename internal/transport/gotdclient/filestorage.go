package gotdclient

import (
	"context"
	"os"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"github.com/lbj9527/tgrelay/internal/obs/fsutil"
)

// fileStorage implements tdsession.Storage over a plain file, atomically
// rewritten on every StoreSession (grounded in the teacher's
// session.FileStorage, generalized to one instance per Session rather than
// a single global session file).
type fileStorage struct {
	path string
	mu   sync.Mutex
}

var _ tdsession.Storage = (*fileStorage)(nil)

func (f *fileStorage) LoadSession(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

func (f *fileStorage) StoreSession(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := fsutil.AtomicWriteFile(f.path, data); err != nil {
		return errors.Wrap(err, "atomic write session")
	}
	return nil
}
