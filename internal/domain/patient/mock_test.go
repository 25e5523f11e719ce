package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type mockRepo struct {
	patients map[uuid.UUID]*Patient
	err      error
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) add(first, last string) *Patient {
	p := &Patient{ID: uuid.New(), FirstName: first, LastName: last, MedicalHistory: []string{}}
	m.patients[p.ID] = p
	return p
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) Search(_ context.Context, name string, limit, offset int) ([]*Patient, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	var matched []*Patient
	for _, p := range m.patients {
		if name == "" || strings.Contains(strings.ToLower(p.DisplayName()), strings.ToLower(name)) {
			matched = append(matched, p)
		}
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
