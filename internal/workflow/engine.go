// Package workflow is the client-side procedure engine. It keeps a snapshot of
// each patient's procedures, rejects invalid actions locally before any
// network call, forwards accepted ones to a Backend and re-fetches afterwards
// instead of trusting optimistic local changes.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
	"github.com/odontoclinic/clinic/internal/platform/cache"
)

// Config wires an Engine. Cache is optional.
type Config struct {
	Backend Backend
	Actor   odontology.User
	Cache   *cache.Store
	Logger  zerolog.Logger
}

// Snapshot is the engine's view of one patient. Stale snapshots come from the
// offline cache and are read-only.
type Snapshot struct {
	PatientID  uuid.UUID              `json:"patient_id"`
	Dentition  odontology.Dentition   `json:"dentition"`
	Procedures []odontology.Procedure `json:"procedures"`
	FetchedAt  time.Time              `json:"fetched_at"`
	Stale      bool                   `json:"-"`
}

// Chart is an odontogram together with the freshness of its data.
type Chart struct {
	procedure.Odontogram
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

type Engine struct {
	backend Backend
	actor   odontology.User
	cache   *cache.Store
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.RWMutex
	patients    map[uuid.UUID]*Snapshot
	owners      map[uuid.UUID]uuid.UUID // procedure -> patient
	assignments map[uuid.UUID]uuid.UUID // assignment -> procedure
	treatments  map[uuid.UUID]odontology.Treatment
}

func New(cfg Config) *Engine {
	return &Engine{
		backend:     cfg.Backend,
		actor:       cfg.Actor,
		cache:       cfg.Cache,
		logger:      cfg.Logger.With().Str("component", "workflow").Str("actor", cfg.Actor.ID.String()).Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		patients:    make(map[uuid.UUID]*Snapshot),
		owners:      make(map[uuid.UUID]uuid.UUID),
		assignments: make(map[uuid.UUID]uuid.UUID),
		treatments:  make(map[uuid.UUID]odontology.Treatment),
	}
}

func cacheKey(patientID uuid.UUID) string { return "procedures:" + patientID.String() }

// Load fetches a patient's procedures and dentition. When the backend fails
// and a cached snapshot exists, that snapshot is returned marked Stale.
func (e *Engine) Load(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	snap, err := e.fetch(ctx, patientID)
	if errors.Is(err, odontology.ErrNotFound) {
		e.forget(ctx, patientID)
		return nil, err
	}
	if err != nil {
		cached := e.fromCache(ctx, patientID)
		if cached == nil {
			return nil, err
		}
		e.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Time("saved_at", cached.FetchedAt).
			Msg("backend unavailable, using cached procedures")
		snap = cached
	}
	e.remember(snap)
	out := *snap
	out.Procedures = append([]odontology.Procedure(nil), snap.Procedures...)
	return &out, nil
}

func (e *Engine) fetch(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	dentition, err := e.backend.FetchDentition(ctx, patientID)
	if err != nil {
		return nil, err
	}
	procs, err := e.backend.FetchProcedures(ctx, patientID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		PatientID:  patientID,
		Dentition:  dentition,
		Procedures: procs,
		FetchedAt:  e.now(),
	}
	if e.cache != nil {
		if err := e.cache.Put(ctx, cacheKey(patientID), snap); err != nil {
			e.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("cache write failed")
		}
	}
	return snap, nil
}

func (e *Engine) fromCache(ctx context.Context, patientID uuid.UUID) *Snapshot {
	if e.cache == nil {
		return nil
	}
	var snap Snapshot
	_, found, err := e.cache.Get(ctx, cacheKey(patientID), &snap)
	if err != nil {
		e.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("cache read failed")
		return nil
	}
	if !found {
		return nil
	}
	snap.Stale = true
	return &snap
}

// forget drops the snapshot of a patient the backend no longer knows.
func (e *Engine) forget(ctx context.Context, patientID uuid.UUID) {
	e.mu.Lock()
	delete(e.patients, patientID)
	e.mu.Unlock()
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, cacheKey(patientID)); err != nil {
		e.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("cache delete failed")
	}
}

func (e *Engine) remember(snap *Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patients[snap.PatientID] = snap
	for _, p := range snap.Procedures {
		e.owners[p.ID] = snap.PatientID
		for _, a := range p.Assignments {
			e.assignments[a.ID] = p.ID
		}
		if p.Assignment != nil {
			e.assignments[p.Assignment.ID] = p.ID
		}
	}
}

// Odontogram loads the patient and aggregates the chart.
func (e *Engine) Odontogram(ctx context.Context, patientID uuid.UUID, f odontology.Filter) (*Chart, error) {
	snap, err := e.Load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &Chart{
		Odontogram: procedure.Odontogram{
			PatientID: patientID,
			Dentition: snap.Dentition,
			Filter:    f,
			Teeth:     odontology.BuildOdontogram(snap.Procedures, snap.Dentition, f),
			Summary:   odontology.Summarize(snap.Procedures),
		},
		FetchedAt: snap.FetchedAt,
		Stale:     snap.Stale,
	}, nil
}

func (e *Engine) Chairs(ctx context.Context) ([]odontology.Chair, error) {
	return e.backend.FetchChairs(ctx)
}

// Treatments lists treatments and remembers them for local checks.
func (e *Engine) Treatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error) {
	ts, err := e.backend.FetchTreatments(ctx, chairID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	for _, t := range ts {
		e.treatments[t.ID] = t
	}
	e.mu.Unlock()
	return ts, nil
}

func cloneProcedure(p odontology.Procedure) *odontology.Procedure {
	c := p
	c.ToothFDI = append(odontology.ToothSet(nil), p.ToothFDI...)
	c.Assignments = append([]odontology.Assignment(nil), p.Assignments...)
	if p.Assignment != nil {
		a := *p.Assignment
		c.Assignment = &a
	}
	return &c
}

// writable returns the loaded snapshot for patientID, refusing stale ones.
// Callers hold mu.
func (e *Engine) writable(patientID uuid.UUID) (*Snapshot, error) {
	snap, ok := e.patients[patientID]
	if !ok {
		return nil, nil
	}
	if snap.Stale {
		return nil, odontology.Conflict("procedures of patient %s were loaded from the offline cache; reload before changing them", patientID)
	}
	return snap, nil
}

// procedure returns a private copy of a loaded procedure and its patient.
func (e *Engine) procedure(procedureID uuid.UUID) (*odontology.Procedure, uuid.UUID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	patientID, ok := e.owners[procedureID]
	if !ok {
		return nil, uuid.Nil, odontology.NotFound("procedure", procedureID)
	}
	snap, err := e.writable(patientID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if snap != nil {
		for _, p := range snap.Procedures {
			if p.ID == procedureID {
				return cloneProcedure(p), patientID, nil
			}
		}
	}
	return nil, uuid.Nil, odontology.NotFound("procedure", procedureID)
}

// assignment returns a private copy of the procedure holding assignmentID,
// the assignment within it and the patient.
func (e *Engine) assignment(assignmentID uuid.UUID) (*odontology.Procedure, *odontology.Assignment, uuid.UUID, error) {
	e.mu.RLock()
	procedureID, ok := e.assignments[assignmentID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, uuid.Nil, odontology.NotFound("assignment", assignmentID)
	}
	p, patientID, err := e.procedure(procedureID)
	if err != nil {
		return nil, nil, uuid.Nil, err
	}
	for i := range p.Assignments {
		if p.Assignments[i].ID == assignmentID {
			a := p.Assignments[i]
			return p, &a, patientID, nil
		}
	}
	return nil, nil, uuid.Nil, odontology.NotFound("assignment", assignmentID)
}

// reject records an action refused before reaching the backend.
func (e *Engine) reject(action string, err error) error {
	e.logger.Debug().Err(err).Str("action", action).Str("kind", string(odontology.KindOf(err))).Msg("rejected locally")
	return err
}

// settle re-fetches the patient after a backend call, whatever its outcome.
// Conflicts are never retried.
func (e *Engine) settle(ctx context.Context, action string, patientID uuid.UUID, err error) {
	if err != nil {
		ev := e.logger.Warn()
		if odontology.KindOf(err) != odontology.KindConflict {
			ev = e.logger.Info()
		}
		ev.Err(err).Str("action", action).Str("kind", string(odontology.KindOf(err))).
			Str("patient_id", patientID.String()).Msg("backend rejected action; refreshing")
	}
	if _, rerr := e.Load(ctx, patientID); rerr != nil {
		e.logger.Warn().Err(rerr).Str("patient_id", patientID.String()).Msg("refresh failed")
	}
}
