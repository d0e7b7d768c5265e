package repofakes

import (
	"encoding/json"
	"sync"

	"github.com/mfigueiredo/go-auth-client/session"
)

var _ session.Store = (*FakeSessionStore)(nil)

// FakeSessionStore is an in-memory Store. Records round-trip through JSON so
// it catches the same serialization mistakes the durable store would.
type FakeSessionStore struct {
	lock   sync.Mutex
	record []byte

	SaveCalls  int
	ClearCalls int
}

func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{}
}

func (fs *FakeSessionStore) Load() (*session.Session, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.record == nil {
		return nil, nil
	}
	var sess session.Session
	if err := json.Unmarshal(fs.record, &sess); err != nil {
		return nil, nil
	}
	return &sess, nil
}

func (fs *FakeSessionStore) Save(sess *session.Session) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	record, err := sess.Encode()
	if err != nil {
		return err
	}
	fs.record = record
	fs.SaveCalls++
	return nil
}

func (fs *FakeSessionStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.record = nil
	fs.ClearCalls++
	return nil
}
