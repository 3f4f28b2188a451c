package procedure

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type memTxKey struct{}

type memState struct {
	procedures  map[uuid.UUID]odontology.Procedure
	assignments map[uuid.UUID]odontology.Assignment
	sessions    map[uuid.UUID]odontology.Session
	// order records insertion order of procedures and assignments.
	order map[uuid.UUID]int
	seq   int
}

func (s *memState) insert(id uuid.UUID) {
	s.seq++
	s.order[id] = s.seq
}

func (s memState) clone() memState {
	c := memState{
		procedures:  make(map[uuid.UUID]odontology.Procedure, len(s.procedures)),
		assignments: make(map[uuid.UUID]odontology.Assignment, len(s.assignments)),
		sessions:    make(map[uuid.UUID]odontology.Session, len(s.sessions)),
		order:       make(map[uuid.UUID]int, len(s.order)),
		seq:         s.seq,
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	for k, v := range s.procedures {
		c.procedures[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// repoMem keeps everything in maps. Transactions are serialised by txMu and
// rolled back by restoring a snapshot, so a transaction is also the lock that
// LockPatient and GetForUpdate stand for.
type repoMem struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state memState
}

// NewRepoMem returns a process-local repository.
func NewRepoMem() Repository {
	return &repoMem{state: memState{
		procedures:  map[uuid.UUID]odontology.Procedure{},
		assignments: map[uuid.UUID]odontology.Assignment{},
		sessions:    map[uuid.UUID]odontology.Session{},
		order:       map[uuid.UUID]int{},
	}}
}

func (r *repoMem) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *repoMem) LockPatient(context.Context, uuid.UUID) error { return nil }

// hydrate attaches the assignment history. Callers hold mu.
func (r *repoMem) hydrate(p odontology.Procedure) *odontology.Procedure {
	p.Assignments = nil
	p.Assignment = nil
	for _, a := range r.state.assignments {
		if a.ProcedureID == p.ID {
			p.Assignments = append(p.Assignments, a)
		}
	}
	sort.Slice(p.Assignments, func(i, j int) bool {
		return r.state.order[p.Assignments[i].ID] < r.state.order[p.Assignments[j].ID]
	})
	if n := len(p.Assignments); n > 0 {
		last := p.Assignments[n-1]
		p.Assignment = &last
	}
	p.ToothFDI = append(odontology.ToothSet(nil), p.ToothFDI...)
	return &p
}

func (r *repoMem) Create(_ context.Context, p *odontology.Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stored := *p
	stored.Assignment, stored.Assignments = nil, nil
	r.state.procedures[p.ID] = stored
	r.state.insert(p.ID)
	return nil
}

func (r *repoMem) Get(_ context.Context, id uuid.UUID) (*odontology.Procedure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.state.procedures[id]
	if !ok {
		return nil, odontology.NotFound("procedure", id)
	}
	return r.hydrate(p), nil
}

func (r *repoMem) GetForUpdate(ctx context.Context, id uuid.UUID) (*odontology.Procedure, error) {
	return r.Get(ctx, id)
}

func (r *repoMem) Update(_ context.Context, p *odontology.Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.procedures[p.ID]; !ok {
		return odontology.NotFound("procedure", p.ID)
	}
	stored := *p
	stored.Assignment, stored.Assignments = nil, nil
	r.state.procedures[p.ID] = stored
	return nil
}

func (r *repoMem) ListByPatient(_ context.Context, patientID uuid.UUID) ([]odontology.Procedure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []odontology.Procedure
	for _, p := range r.state.procedures {
		if p.PatientID == patientID {
			out = append(out, *r.hydrate(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.state.order[out[i].ID] < r.state.order[out[j].ID] })
	return out, nil
}

func (r *repoMem) CreateAssignment(_ context.Context, a *odontology.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.state.assignments {
		if existing.ProcedureID == a.ProcedureID && existing.Status == odontology.AssignmentActive {
			return odontology.Conflict("procedure already has an active assignment")
		}
	}
	r.state.assignments[a.ID] = *a
	r.state.insert(a.ID)
	return nil
}

func (r *repoMem) UpdateAssignment(_ context.Context, a *odontology.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.assignments[a.ID]; !ok {
		return odontology.NotFound("assignment", a.ID)
	}
	r.state.assignments[a.ID] = *a
	return nil
}

func (r *repoMem) GetAssignment(_ context.Context, id uuid.UUID) (*odontology.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.state.assignments[id]
	if !ok {
		return nil, odontology.NotFound("assignment", id)
	}
	return &a, nil
}

func (r *repoMem) ListAssignments(_ context.Context, f AssignmentFilter, limit, offset int) ([]AssignmentItem, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []AssignmentItem
	for _, a := range r.state.assignments {
		if f.StudentID != uuid.Nil && a.Student.ID != f.StudentID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		p := r.state.procedures[a.ProcedureID]
		items = append(items, AssignmentItem{
			Assignment:      a,
			PatientID:       p.PatientID,
			TreatmentName:   p.Treatment.Name,
			ToothFDI:        p.ToothFDI,
			ProcedureStatus: p.Status,
		})
	}
	sort.Slice(items, func(i, j int) bool { return r.state.order[items[i].ID] > r.state.order[items[j].ID] })

	total := len(items)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (r *repoMem) CreateSession(_ context.Context, s *odontology.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.state.sessions {
		if existing.AssignmentID == s.AssignmentID && existing.SessionNumber == s.SessionNumber {
			return odontology.Conflict("session number %d already exists", s.SessionNumber)
		}
	}
	r.state.sessions[s.ID] = *s
	return nil
}

func (r *repoMem) UpdateSession(_ context.Context, s *odontology.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.sessions[s.ID]; !ok {
		return odontology.NotFound("session", s.ID)
	}
	r.state.sessions[s.ID] = *s
	return nil
}

func (r *repoMem) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.sessions[id]; !ok {
		return odontology.NotFound("session", id)
	}
	delete(r.state.sessions, id)
	return nil
}

func (r *repoMem) GetSession(_ context.Context, id uuid.UUID) (*odontology.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.state.sessions[id]
	if !ok {
		return nil, odontology.NotFound("session", id)
	}
	return &s, nil
}

func (r *repoMem) ListSessions(_ context.Context, assignmentID uuid.UUID) ([]odontology.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []odontology.Session
	for _, s := range r.state.sessions {
		if s.AssignmentID == assignmentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionNumber < out[j].SessionNumber })
	return out, nil
}
