package patient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type repoMem struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]odontology.Patient
}

func NewRepoMem() Repository {
	return &repoMem{patients: map[uuid.UUID]odontology.Patient{}}
}

func (r *repoMem) Create(_ context.Context, p *odontology.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *repoMem) GetByID(_ context.Context, id uuid.UUID) (*odontology.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, odontology.NotFound("patient", id)
	}
	return &p, nil
}

func (r *repoMem) List(_ context.Context, query string, limit, offset int) ([]odontology.Patient, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(query)
	var matched []odontology.Patient
	for _, p := range r.patients {
		if strings.Contains(strings.ToLower(p.FullName), q) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].FullName < matched[j].FullName })

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
