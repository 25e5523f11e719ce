package settings

import (
	"context"
	"errors"
	"sync"
)

type mockRepo struct {
	mu      sync.Mutex
	doc     []byte
	saves   int
	loadErr error
	saveErr error
}

func (r *mockRepo) Load(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.doc, nil
}

func (r *mockRepo) Save(_ context.Context, doc []byte, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.doc = doc
	r.saves++
	return nil
}

func (r *mockRepo) set(doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = []byte(doc)
}

type mockRecorder struct {
	changes []Change
	err     error
}

func (m *mockRecorder) RecordSettingsChange(_ context.Context, ch Change) error {
	if m.err != nil {
		return m.err
	}
	m.changes = append(m.changes, ch)
	return nil
}

// rollbackTx discards repo writes when fn fails, like a database transaction.
func rollbackTx(repo *mockRepo) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		repo.mu.Lock()
		snapshot, saves := repo.doc, repo.saves
		repo.mu.Unlock()
		if err := fn(ctx); err != nil {
			repo.mu.Lock()
			repo.doc, repo.saves = snapshot, saves
			repo.mu.Unlock()
			return err
		}
		return nil
	}
}

var errAuditDown = errors.New("audit store down")
