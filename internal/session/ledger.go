package session

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/lbj9527/tgrelay/internal/model"
)

var scratchBucket = []byte("scratch_handles")

// Ledger is a bbolt-backed durable record of ScratchHandles a Session
// currently owns in its self-chat (spec §4.7 "never lost"). It persists
// handles, not run progress: a crash mid-run leaves orphaned scratch
// discoverable on the next process start via Outstanding, but the run
// itself is never resumed.
type Ledger struct {
	db *bbolt.DB
}

// OpenLedger opens (creating if absent) the bbolt database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open scratch ledger: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(scratchBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init scratch ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func handleKey(owner model.SessionName, remoteID model.MessageID) []byte {
	return []byte(fmt.Sprintf("%s:%d", owner, remoteID))
}

// Record persists h, marking it outstanding until Reclaim removes it.
func (l *Ledger) Record(h model.ScratchHandle) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(scratchBucket).Put(handleKey(h.Owner, h.RemoteID), data)
	})
}

// Reclaim removes h from the ledger once it has been deleted from the
// remote self-chat (stage3 cleanup or emergency cleanup).
func (l *Ledger) Reclaim(h model.ScratchHandle) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(scratchBucket).Delete(handleKey(h.Owner, h.RemoteID))
	})
}

// Outstanding returns every handle still recorded, for emergency cleanup
// or a post-crash orphan report.
func (l *Ledger) Outstanding() ([]model.ScratchHandle, error) {
	var out []model.ScratchHandle
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(scratchBucket).ForEach(func(_, v []byte) error {
			var h model.ScratchHandle
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			out = append(out, h)
			return nil
		})
	})
	return out, err
}
