package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoclinic/clinic/internal/domain/catalog"
	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/patient"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
	"github.com/odontoclinic/clinic/internal/platform/cache"
)

type env struct {
	procedures *procedure.Service
	patients   *patient.Service
	catalog    *catalog.Service
	patientID  uuid.UUID
	filling    odontology.Treatment
	upper      odontology.Treatment
	lower      odontology.Treatment
	professor  odontology.User
	student    odontology.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	v := &env{
		catalog:   catalog.NewService(catalog.NewRepoMem()),
		patients:  patient.NewService(patient.NewRepoMem(), 0),
		professor: odontology.User{ID: uuid.New(), Name: "Dra. Ruiz", Role: odontology.RoleProfessor},
		student:   odontology.User{ID: uuid.New(), Name: "Ana", Role: odontology.RoleStudent},
	}
	v.procedures = procedure.NewService(procedure.NewRepoMem(), v.catalog, v.patients, zerolog.Nop(), nil)

	chair := odontology.Chair{Name: "Prótesis", Code: "PRO"}
	if err := v.catalog.CreateChair(ctx, &chair); err != nil {
		t.Fatalf("chair: %v", err)
	}
	for _, tr := range []*odontology.Treatment{&v.filling, &v.upper, &v.lower} {
		tr.ChairID = chair.ID
		tr.DefaultSessions = 2
	}
	v.filling.Name, v.filling.Code = "Obturación", "OBT"
	v.upper.Name, v.upper.Code = "Prótesis Completa Superior", "PCS"
	v.lower.Name, v.lower.Code = "Prótesis Completa Inferior", "PCI"
	for _, tr := range []*odontology.Treatment{&v.filling, &v.upper, &v.lower} {
		if err := v.catalog.CreateTreatment(ctx, tr); err != nil {
			t.Fatalf("treatment %s: %v", tr.Name, err)
		}
	}

	pv, err := v.patients.Create(ctx, &odontology.Patient{FullName: "María López", BirthDate: time.Date(1980, 5, 2, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	v.patientID = pv.ID
	return v
}

func (v *env) engine(actor odontology.User, store *cache.Store) (*Engine, *actorBackend) {
	b := newActorBackend(actor, v.procedures, v.patients, v.catalog)
	return New(Config{Backend: b, Actor: actor, Cache: store, Logger: zerolog.Nop()}), b
}

// available creates a disponible procedure as the professor.
func (v *env) available(t *testing.T, tr odontology.Treatment, teeth ...odontology.Tooth) *odontology.Procedure {
	t.Helper()
	p, err := v.procedures.Create(context.Background(), v.professor, odontology.CreateProcedureRequest{
		PatientID:   v.patientID,
		TreatmentID: tr.ID,
		ToothFDI:    odontology.NewToothSet(teeth...),
		Intent:      odontology.ManualIntent(odontology.StatusAvailable),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func snapshotProcedure(t *testing.T, e *Engine, patientID, id uuid.UUID) odontology.Procedure {
	t.Helper()
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.patients[patientID].Procedures {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("procedure %s not in snapshot", id)
	return odontology.Procedure{}
}

func TestEngine_HappyPath(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "46")
	e, _ := v.engine(v.student, nil)
	if _, err := e.Load(ctx, v.patientID); err != nil {
		t.Fatalf("load: %v", err)
	}

	a, err := e.Assign(ctx, p.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := snapshotProcedure(t, e, v.patientID, p.ID); got.Status != odontology.StatusInProgress || got.Assignment.Status != odontology.AssignmentActive {
		t.Fatalf("expected refreshed proceso/activa, got %s", got.Status)
	}

	res, err := e.CreateSession(ctx, a.ID, odontology.SessionInput{SessionDate: time.Now(), Notes: strPtr("check-up")})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if res.SessionsCompleted != 1 {
		t.Errorf("expected 1 completed session, got %d", res.SessionsCompleted)
	}
	if got := snapshotProcedure(t, e, v.patientID, p.ID); got.SessionsCompleted != 1 {
		t.Errorf("expected refreshed counter 1, got %d", got.SessionsCompleted)
	}

	done, err := e.Complete(ctx, a.ID, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != odontology.AssignmentCompleted || done.CompletedAt == nil {
		t.Errorf("unexpected assignment %+v", done)
	}
	if got := snapshotProcedure(t, e, v.patientID, p.ID); got.Status != odontology.StatusFinished {
		t.Errorf("expected finalizado, got %s", got.Status)
	}
}

func TestEngine_AbandonMakesProcedureAssignableAgain(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "11")
	e, _ := v.engine(v.student, nil)
	e.Load(ctx, v.patientID)

	a, err := e.Assign(ctx, p.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	out, err := e.Abandon(ctx, a.ID, "paciente no asistió")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if out.Status != odontology.AssignmentAbandoned || out.AbandonedAt == nil {
		t.Errorf("unexpected assignment %+v", out)
	}

	other := odontology.User{ID: uuid.New(), Name: "Luis", Role: odontology.RoleStudent}
	e2, _ := v.engine(other, nil)
	e2.Load(ctx, v.patientID)
	if _, err := e2.Assign(ctx, p.ID); err != nil {
		t.Fatalf("expected re-assignment to succeed: %v", err)
	}
}

func TestEngine_LocalRejectionsSkipBackend(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "21")
	e, b := v.engine(v.student, nil)
	e.Load(ctx, v.patientID)

	if _, err := e.Cancel(ctx, p.ID); !errors.Is(err, odontology.ErrAuthorization) {
		t.Errorf("cancel by non-creator: expected authorization error, got %v", err)
	}
	a, err := e.Assign(ctx, p.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := e.Abandon(ctx, a.ID, ""); !errors.Is(err, odontology.ErrValidation) {
		t.Errorf("abandon without reason: expected validation error, got %v", err)
	}
	if _, err := e.CreateProcedure(ctx, odontology.CreateProcedureRequest{PatientID: v.patientID, Intent: odontology.AutoAssignIntent()}); !errors.Is(err, odontology.ErrValidation) {
		t.Errorf("create without treatment: expected validation error, got %v", err)
	}
	if _, err := e.CreateSession(ctx, a.ID, odontology.SessionInput{}); !errors.Is(err, odontology.ErrValidation) {
		t.Errorf("session without date: expected validation error, got %v", err)
	}

	for _, name := range []string{"cancel", "abandon", "create", "session_create"} {
		if n := b.count(name); n != 0 {
			t.Errorf("expected no backend %s call, got %d", name, n)
		}
	}
	if got := snapshotProcedure(t, e, v.patientID, p.ID); got.Status != odontology.StatusInProgress {
		t.Errorf("expected state unchanged, got %s", got.Status)
	}
}

func TestEngine_ConflictRefreshesWithoutRetry(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "36")

	first, _ := v.engine(v.student, nil)
	rival := odontology.User{ID: uuid.New(), Name: "Luis", Role: odontology.RoleStudent}
	second, b := v.engine(rival, nil)
	first.Load(ctx, v.patientID)
	second.Load(ctx, v.patientID)

	if _, err := first.Assign(ctx, p.ID); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := second.Assign(ctx, p.ID); !errors.Is(err, odontology.ErrConflict) {
		t.Fatalf("expected conflict from the server, got %v", err)
	}
	if n := b.count("assign"); n != 1 {
		t.Errorf("expected exactly one assign call, got %d", n)
	}
	got := snapshotProcedure(t, second, v.patientID, p.ID)
	if got.Status != odontology.StatusInProgress || got.Assignment.Student.ID != v.student.ID {
		t.Errorf("expected refreshed snapshot to show the winner, got %s", got.Status)
	}

	if _, err := second.Assign(ctx, p.ID); !errors.Is(err, odontology.ErrInvalidTransition) {
		t.Errorf("expected local rejection after refresh, got %v", err)
	}
	if n := b.count("assign"); n != 1 {
		t.Errorf("expected no further assign calls, got %d", n)
	}
}

func TestEngine_ProsthesisExclusivity(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	upper := v.available(t, v.upper)
	e, b := v.engine(v.student, nil)
	e.Load(ctx, v.patientID)

	req := odontology.CreateProcedureRequest{
		PatientID:   v.patientID,
		TreatmentID: v.lower.ID,
		Intent:      odontology.ManualIntent(odontology.StatusAvailable),
	}
	if _, err := e.CreateProcedure(ctx, req); !errors.Is(err, odontology.ErrConflict) {
		t.Fatalf("expected server conflict, got %v", err)
	}
	if n := b.count("create"); n != 1 {
		t.Fatalf("expected one create call, got %d", n)
	}

	if _, err := e.Treatments(ctx, nil); err != nil {
		t.Fatalf("treatments: %v", err)
	}
	if _, err := e.CreateProcedure(ctx, req); !errors.Is(err, odontology.ErrConflict) {
		t.Fatalf("expected local conflict, got %v", err)
	}
	if n := b.count("create"); n != 1 {
		t.Errorf("expected the known prosthesis to be rejected locally, got %d calls", n)
	}

	a, err := e.Assign(ctx, upper.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := e.Complete(ctx, a.ID, "entregada"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	lower, err := e.CreateProcedure(ctx, req)
	if err != nil {
		t.Fatalf("expected creation after finalizing: %v", err)
	}
	if len(lower.ToothFDI) != 16 {
		t.Errorf("expected a full arch, got %v", lower.ToothFDI)
	}
}

func TestEngine_SessionNumbering(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "26")
	e, _ := v.engine(v.student, nil)
	e.Load(ctx, v.patientID)
	a, err := e.Assign(ctx, p.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	var second uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := e.CreateSession(ctx, a.ID, odontology.SessionInput{SessionDate: time.Now()})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if res.Session.SessionNumber == 2 {
			second = res.Session.ID
		}
	}
	if _, err := e.DeleteSession(ctx, a.ID, second); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res, err := e.CreateSession(ctx, a.ID, odontology.SessionInput{SessionDate: time.Now()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Session.SessionNumber != 4 {
		t.Errorf("expected session number 4, got %d", res.Session.SessionNumber)
	}
	if !res.ExceedsPlan {
		t.Error("expected 3 completed sessions to exceed a plan of 2")
	}

	sessions, err := e.ListSessions(ctx, a.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 || sessions[1].SessionNumber != 3 {
		t.Errorf("expected numbers [1 3 4], got %+v", sessions)
	}
}

func TestEngine_SessionsRejectedAfterCompletion(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "16")
	e, b := v.engine(v.student, nil)
	e.Load(ctx, v.patientID)
	a, _ := e.Assign(ctx, p.ID)
	res, err := e.CreateSession(ctx, a.ID, odontology.SessionInput{SessionDate: time.Now()})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := e.Complete(ctx, a.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	notes := "late edit"
	if _, err := e.UpdateSession(ctx, a.ID, res.Session.ID, odontology.SessionUpdate{Notes: &notes}); !errors.Is(err, odontology.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if n := b.count("session_update"); n != 0 {
		t.Errorf("expected no update call, got %d", n)
	}
}

func TestEngine_UnknownProcedure(t *testing.T) {
	v := newEnv(t)
	e, _ := v.engine(v.student, nil)
	if _, err := e.Assign(context.Background(), uuid.New()); !errors.Is(err, odontology.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestEngine_OfflineOdontogram(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p := v.available(t, v.filling, "36")

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	e, b := v.engine(v.student, store)
	fresh, err := e.Odontogram(ctx, v.patientID, odontology.Filter{})
	if err != nil {
		t.Fatalf("odontogram: %v", err)
	}
	if fresh.Stale {
		t.Fatal("expected a fresh chart")
	}

	b.setDown(true)
	stale, err := e.Odontogram(ctx, v.patientID, odontology.Filter{})
	if err != nil {
		t.Fatalf("expected cached chart, got %v", err)
	}
	if !stale.Stale || len(stale.Teeth) != 32 {
		t.Fatalf("expected stale 32-tooth chart, got stale=%v teeth=%d", stale.Stale, len(stale.Teeth))
	}
	for _, tv := range stale.Teeth {
		if tv.Tooth == "36" && tv.DisplayStatus != odontology.StatusAvailable {
			t.Errorf("expected cached disponible on 36, got %q", tv.DisplayStatus)
		}
	}

	if _, err := e.Assign(ctx, p.ID); !errors.Is(err, odontology.ErrConflict) {
		t.Errorf("expected mutations on a stale snapshot to be refused, got %v", err)
	}
	if n := b.count("assign"); n != 0 {
		t.Errorf("expected no assign call, got %d", n)
	}

	b.setDown(false)
	if _, err := e.Load(ctx, v.patientID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := e.Assign(ctx, p.ID); err != nil {
		t.Errorf("expected assign after reload: %v", err)
	}
}

func TestEngine_UnknownPatientDropsCachedSnapshot(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	gone := uuid.New()
	if err := store.Put(ctx, cacheKey(gone), Snapshot{PatientID: gone, Dentition: odontology.DentitionAdult}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	e, _ := v.engine(v.student, store)
	if _, err := e.Odontogram(ctx, gone, odontology.Filter{}); !errors.Is(err, odontology.ErrNotFound) {
		t.Fatalf("expected not found instead of a stale chart, got %v", err)
	}
	var snap Snapshot
	if _, found, err := store.Get(ctx, cacheKey(gone), &snap); err != nil || found {
		t.Errorf("expected cached snapshot removed, found=%v err=%v", found, err)
	}
}

func TestEngine_OfflineWithoutCache(t *testing.T) {
	v := newEnv(t)
	e, b := v.engine(v.student, nil)
	b.setDown(true)
	_, err := e.Odontogram(context.Background(), v.patientID, odontology.Filter{})
	if err == nil || odontology.KindOf(err) != odontology.KindInternal {
		t.Errorf("expected an internal error, got %v", err)
	}
}

func TestEngine_UpdateChecksTreatmentLocally(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	p, err := v.procedures.Create(ctx, v.student, odontology.CreateProcedureRequest{
		PatientID:   v.patientID,
		TreatmentID: v.filling.ID,
		ToothFDI:    odontology.ToothSet{"14"},
		Intent:      odontology.ManualIntent(odontology.StatusAvailable),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e, b := v.engine(v.student, nil)
	e.Load(ctx, v.patientID)
	e.Treatments(ctx, nil)

	if _, err := e.Update(ctx, p.ID, odontology.ProcedureUpdate{TreatmentID: &v.upper.ID}); !errors.Is(err, odontology.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if n := b.count("update"); n != 0 {
		t.Errorf("expected no update call, got %d", n)
	}

	notes := "revisar oclusión"
	out, err := e.Update(ctx, p.ID, odontology.ProcedureUpdate{Notes: &notes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Notes == nil || *out.Notes != notes {
		t.Errorf("unexpected notes %v", out.Notes)
	}
}

func strPtr(s string) *string { return &s }
