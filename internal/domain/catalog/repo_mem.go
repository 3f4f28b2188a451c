package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type repoMem struct {
	mu         sync.RWMutex
	chairs     map[uuid.UUID]odontology.Chair
	treatments map[uuid.UUID]odontology.Treatment
}

// NewRepoMem returns a process-local catalog.
func NewRepoMem() Repository {
	return &repoMem{
		chairs:     map[uuid.UUID]odontology.Chair{},
		treatments: map[uuid.UUID]odontology.Treatment{},
	}
}

func (r *repoMem) CreateChair(_ context.Context, ch *odontology.Chair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.chairs {
		if existing.Code == ch.Code {
			return odontology.Conflict("chair code %q already exists", ch.Code)
		}
	}
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	r.chairs[ch.ID] = *ch
	return nil
}

func (r *repoMem) ListChairs(context.Context) ([]odontology.Chair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]odontology.Chair, 0, len(r.chairs))
	for _, ch := range r.chairs {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *repoMem) GetChair(_ context.Context, id uuid.UUID) (*odontology.Chair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.chairs[id]
	if !ok {
		return nil, odontology.NotFound("chair", id)
	}
	return &ch, nil
}

func (r *repoMem) CreateTreatment(_ context.Context, t *odontology.Treatment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.treatments {
		if existing.Code == t.Code {
			return odontology.Conflict("treatment code %q already exists", t.Code)
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if ch, ok := r.chairs[t.ChairID]; ok {
		t.ChairName = ch.Name
	}
	r.treatments[t.ID] = *t
	return nil
}

func (r *repoMem) ListTreatments(_ context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []odontology.Treatment
	for _, t := range r.treatments {
		if chairID != nil && t.ChairID != *chairID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChairName != out[j].ChairName {
			return out[i].ChairName < out[j].ChairName
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *repoMem) GetTreatment(_ context.Context, id uuid.UUID) (*odontology.Treatment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.treatments[id]
	if !ok {
		return nil, odontology.NotFound("treatment", id)
	}
	return &t, nil
}
