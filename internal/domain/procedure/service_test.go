package procedure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/metrics"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	treatments map[uuid.UUID]odontology.Treatment
	calls      atomic.Int32
}

func (f *fakeCatalog) GetTreatment(_ context.Context, id uuid.UUID) (*odontology.Treatment, error) {
	f.calls.Add(1)
	t, ok := f.treatments[id]
	if !ok {
		return nil, odontology.NotFound("treatment", id)
	}
	return &t, nil
}

type fakePatients map[uuid.UUID]odontology.Dentition

func (f fakePatients) Dentition(_ context.Context, id uuid.UUID) (odontology.Dentition, error) {
	d, ok := f[id]
	if !ok {
		return "", odontology.NotFound("patient", id)
	}
	return d, nil
}

type fixture struct {
	svc       *Service
	catalog   *fakeCatalog
	patientID uuid.UUID
	filling   odontology.Treatment
	upper     odontology.Treatment
	lower     odontology.Treatment
	professor odontology.User
	student   odontology.User
	other     odontology.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chair := uuid.New()
	f := &fixture{
		patientID: uuid.New(),
		filling:   odontology.Treatment{ID: uuid.New(), Name: "Obturación", ChairID: chair, DefaultSessions: 2},
		upper:     odontology.Treatment{ID: uuid.New(), Name: "Prótesis Completa Superior", ChairID: chair, DefaultSessions: 4},
		lower:     odontology.Treatment{ID: uuid.New(), Name: "Prótesis Completa Inferior", ChairID: chair, DefaultSessions: 4},
		professor: odontology.User{ID: uuid.New(), Name: "Dra. Ruiz", Role: odontology.RoleProfessor},
		student:   odontology.User{ID: uuid.New(), Name: "Ana", Role: odontology.RoleStudent},
		other:     odontology.User{ID: uuid.New(), Name: "Luis", Role: odontology.RoleStudent},
	}
	f.catalog = &fakeCatalog{treatments: map[uuid.UUID]odontology.Treatment{
		f.filling.ID: f.filling,
		f.upper.ID:   f.upper,
		f.lower.ID:   f.lower,
	}}
	f.svc = NewService(NewRepoMem(), f.catalog, fakePatients{f.patientID: odontology.DentitionAdult}, zerolog.Nop(), metrics.New())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) create(t *testing.T, actor odontology.User, tr odontology.Treatment, intent odontology.CreationIntent, teeth ...odontology.Tooth) *odontology.Procedure {
	t.Helper()
	p, err := f.svc.Create(context.Background(), actor, odontology.CreateProcedureRequest{
		PatientID:   f.patientID,
		TreatmentID: tr.ID,
		ToothFDI:    odontology.NewToothSet(teeth...),
		Intent:      intent,
	})
	if err != nil {
		t.Fatalf("create %s: %v", tr.Name, err)
	}
	return p
}

func (f *fixture) assigned(t *testing.T) (*odontology.Procedure, *odontology.Assignment) {
	t.Helper()
	p := f.create(t, f.professor, f.filling, odontology.ManualIntent(odontology.StatusAvailable), "36")
	a, err := f.svc.Assign(context.Background(), f.student, p.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return p, a
}

func TestService_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.assigned(t)

	got, _ := f.svc.Get(ctx, p.ID)
	if got.Status != odontology.StatusInProgress || got.Assignment.Status != odontology.AssignmentActive {
		t.Fatalf("expected proceso/activa, got %s/%s", got.Status, got.Assignment.Status)
	}

	res, err := f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow, Notes: strPtr("check-up")})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if res.SessionsCompleted != 1 || res.Session.SessionNumber != 1 {
		t.Errorf("expected first completed session, got %+v", res)
	}

	done, err := f.svc.Complete(ctx, f.student, a.ID, "sin complicaciones")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != odontology.AssignmentCompleted || done.CompletedAt == nil {
		t.Errorf("unexpected assignment %+v", done)
	}

	got, _ = f.svc.Get(ctx, p.ID)
	if got.Status != odontology.StatusFinished {
		t.Errorf("expected finalizado, got %s", got.Status)
	}
	if got.SessionsCompleted != 1 || got.Assignment.SessionsCompleted != 1 {
		t.Errorf("expected stored counters 1/1, got %d/%d", got.SessionsCompleted, got.Assignment.SessionsCompleted)
	}
}

func TestService_AbandonAndReassignKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.assigned(t)

	out, err := f.svc.Abandon(ctx, f.student, a.ID, "paciente no asistió")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if out.Status != odontology.AssignmentAbandoned || out.AbandonedAt == nil {
		t.Errorf("unexpected assignment %+v", out)
	}

	second, err := f.svc.Assign(ctx, f.other, p.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	got, _ := f.svc.Get(ctx, p.ID)
	if len(got.Assignments) != 2 {
		t.Fatalf("expected 2 assignments in history, got %d", len(got.Assignments))
	}
	if got.Assignments[0].Status != odontology.AssignmentAbandoned || got.Assignment.ID != second.ID {
		t.Errorf("expected abandoned then active, got %+v", got.Assignments)
	}

	if _, err := f.svc.Complete(ctx, f.student, a.ID, ""); !errors.Is(err, odontology.ErrInvalidTransition) {
		t.Errorf("expected invalid transition for stale assignment, got %v", err)
	}
}

func TestService_AbandonWithoutReason(t *testing.T) {
	f := newFixture(t)
	p, a := f.assigned(t)

	if _, err := f.svc.Abandon(context.Background(), f.student, a.ID, "  "); !errors.Is(err, odontology.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := f.svc.Get(context.Background(), p.ID)
	if got.Status != odontology.StatusInProgress || got.Assignment.Status != odontology.AssignmentActive {
		t.Errorf("expected state unchanged, got %s/%s", got.Status, got.Assignment.Status)
	}
}

func TestService_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.assigned(t)

	if _, err := f.svc.Complete(ctx, f.other, a.ID, ""); !errors.Is(err, odontology.ErrAuthorization) {
		t.Errorf("complete by other student: expected authorization error, got %v", err)
	}

	fresh := f.create(t, f.professor, f.filling, odontology.ManualIntent(odontology.StatusAvailable), "11")
	if _, err := f.svc.Cancel(ctx, f.student, fresh.ID); !errors.Is(err, odontology.ErrAuthorization) {
		t.Errorf("cancel by non-creator: expected authorization error, got %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, f.professor, fresh.ID)
	if err != nil {
		t.Fatalf("cancel by creator: %v", err)
	}
	if cancelled.Status != odontology.StatusCancelled {
		t.Errorf("expected cancelado, got %s", cancelled.Status)
	}

	got, _ := f.svc.Get(ctx, p.ID)
	if got.Status != odontology.StatusInProgress {
		t.Errorf("expected rejected completion to leave proceso, got %s", got.Status)
	}
}

func TestService_AssignTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	p, _ := f.assigned(t)
	if _, err := f.svc.Assign(context.Background(), f.other, p.ID); !errors.Is(err, odontology.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestService_ConcurrentAssignHasOneWinner(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, f.professor, f.filling, odontology.ManualIntent(odontology.StatusAvailable), "21")

	const students = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			student := odontology.User{ID: uuid.New(), Role: odontology.RoleStudent}
			_, err := f.svc.Assign(context.Background(), student, p.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, odontology.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 || conflicts != students-1 {
		t.Errorf("expected 1 winner and %d conflicts, got %d and %d", students-1, winners, conflicts)
	}
	got, _ := f.svc.Get(context.Background(), p.ID)
	if len(got.Assignments) != 1 {
		t.Errorf("expected a single assignment, got %d", len(got.Assignments))
	}
}

func TestService_ProsthesisExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	upper := f.create(t, f.student, f.upper, odontology.AutoAssignIntent())
	if upper.Status != odontology.StatusInProgress || len(upper.ToothFDI) != 16 {
		t.Fatalf("expected auto-assigned upper arch, got %s with %d teeth", upper.Status, len(upper.ToothFDI))
	}

	req := odontology.CreateProcedureRequest{
		PatientID:   f.patientID,
		TreatmentID: f.lower.ID,
		Intent:      odontology.ManualIntent(odontology.StatusAvailable),
	}
	if _, err := f.svc.Create(ctx, f.professor, req); !errors.Is(err, odontology.ErrConflict) {
		t.Fatalf("expected conflict while upper prosthesis is active, got %v", err)
	}

	if _, err := f.svc.Complete(ctx, f.student, upper.Assignment.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	lower, err := f.svc.Create(ctx, f.professor, req)
	if err != nil {
		t.Fatalf("expected creation after finalizing: %v", err)
	}
	if lower.ToothFDI[0] != "48" {
		t.Errorf("expected lower arch teeth, got %v", lower.ToothFDI)
	}
}

func TestService_ConcurrentProsthesisCreation(t *testing.T) {
	f := newFixture(t)
	req := odontology.CreateProcedureRequest{
		PatientID:   f.patientID,
		TreatmentID: f.upper.ID,
		Intent:      odontology.ManualIntent(odontology.StatusAvailable),
	}

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), f.professor, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, odontology.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one prosthesis, got %d", created)
	}
	procs, _ := f.svc.ListByPatient(context.Background(), f.patientID)
	if len(procs) != 1 {
		t.Errorf("expected one stored procedure, got %d", len(procs))
	}
}

func TestService_Create_ValidatesBeforeLookup(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.professor, odontology.CreateProcedureRequest{
		PatientID: f.patientID,
		Intent:    odontology.ManualIntent(odontology.StatusAvailable),
	})
	if !errors.Is(err, odontology.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := f.catalog.calls.Load(); n != 0 {
		t.Errorf("expected no catalog lookup, got %d", n)
	}
}

func TestService_Create_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.professor, odontology.CreateProcedureRequest{
		PatientID:   uuid.New(),
		TreatmentID: f.filling.ID,
		ToothFDI:    odontology.ToothSet{"11"},
		Intent:      odontology.ManualIntent(odontology.StatusAvailable),
	})
	if !errors.Is(err, odontology.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_SessionNumbering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.assigned(t)

	var second uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow.AddDate(0, 0, i)})
		if err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
		if res.Session.SessionNumber == 2 {
			second = res.Session.ID
		}
	}
	if _, err := f.svc.DeleteSession(ctx, f.student, second); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res, err := f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow})
	if err != nil {
		t.Fatalf("create after delete: %v", err)
	}
	if res.Session.SessionNumber != 4 {
		t.Errorf("expected session number 4, got %d", res.Session.SessionNumber)
	}

	sessions, _ := f.svc.ListSessions(ctx, a.ID)
	if len(sessions) != 3 || sessions[0].SessionNumber != 1 || sessions[1].SessionNumber != 3 || sessions[2].SessionNumber != 4 {
		t.Errorf("expected numbers [1 3 4], got %+v", sessions)
	}
	got, _ := f.svc.Get(ctx, p.ID)
	if got.SessionsCompleted != 3 || got.Assignment.SessionSeq != 4 {
		t.Errorf("expected 3 completed and seq 4, got %d and %d", got.SessionsCompleted, got.Assignment.SessionSeq)
	}
}

func TestService_SessionUpdateAdjustsCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.assigned(t)

	res, _ := f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow})
	scheduled := odontology.SessionScheduled
	upd, err := f.svc.UpdateSession(ctx, f.student, res.Session.ID, odontology.SessionUpdate{Status: &scheduled})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.SessionsCompleted != 0 || upd.Session.Status != odontology.SessionScheduled {
		t.Errorf("unexpected result %+v", upd)
	}
	got, _ := f.svc.Get(ctx, p.ID)
	if got.SessionsCompleted != 0 {
		t.Errorf("expected stored counter 0, got %d", got.SessionsCompleted)
	}

	if _, err := f.svc.UpdateSession(ctx, f.other, res.Session.ID, odontology.SessionUpdate{}); !errors.Is(err, odontology.ErrAuthorization) {
		t.Errorf("expected authorization error for another student, got %v", err)
	}
}

func TestService_SessionExceedsPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, a := f.assigned(t)

	var res *SessionResult
	for i := 0; i < 3; i++ {
		var err error
		if res, err = f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if !res.ExceedsPlan || res.SessionsTotal != 2 || res.SessionsCompleted != 3 {
		t.Errorf("expected plan of 2 exceeded with 3 sessions, got %+v", res)
	}
}

func TestService_SessionsFrozenAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, a := f.assigned(t)
	res, _ := f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow})
	if _, err := f.svc.Complete(ctx, f.student, a.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := f.svc.CreateSession(ctx, f.student, a.ID, odontology.SessionInput{SessionDate: testNow}); !errors.Is(err, odontology.ErrInvalidTransition) {
		t.Errorf("create: expected invalid transition, got %v", err)
	}
	if _, err := f.svc.DeleteSession(ctx, f.student, res.Session.ID); !errors.Is(err, odontology.ErrInvalidTransition) {
		t.Errorf("delete: expected invalid transition, got %v", err)
	}
	sessions, _ := f.svc.ListSessions(ctx, a.ID)
	if len(sessions) != 1 {
		t.Errorf("expected history to be kept, got %d sessions", len(sessions))
	}
}

func TestService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.professor, f.filling, odontology.ManualIntent(odontology.StatusAvailable), "11")

	notes := "  control en 6 meses "
	contra := odontology.StatusContraindicated
	got, err := f.svc.Update(ctx, f.professor, p.ID, odontology.ProcedureUpdate{Notes: &notes, Status: &contra})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != odontology.StatusContraindicated || *got.Notes != "control en 6 meses" {
		t.Errorf("unexpected procedure %s %q", got.Status, *got.Notes)
	}

	if _, err := f.svc.Update(ctx, f.professor, p.ID, odontology.ProcedureUpdate{TreatmentID: &f.upper.ID}); !errors.Is(err, odontology.ErrValidation) {
		t.Errorf("expected validation error converting to prosthesis, got %v", err)
	}

	_, a := f.assigned(t)
	if _, err := f.svc.Update(ctx, f.professor, a.ProcedureID, odontology.ProcedureUpdate{Notes: &notes}); !errors.Is(err, odontology.ErrInvalidTransition) {
		t.Errorf("expected invalid transition editing proceso, got %v", err)
	}
}

func TestService_Odontogram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.professor, f.filling, odontology.ManualIntent(odontology.StatusAvailable), "36")
	f.create(t, f.professor, f.filling, odontology.ManualIntent(odontology.StatusAbsent), "36")
	f.assigned(t)

	chart, err := f.svc.Odontogram(ctx, f.patientID, odontology.Filter{})
	if err != nil {
		t.Fatalf("odontogram: %v", err)
	}
	if len(chart.Teeth) != 32 || chart.Dentition != odontology.DentitionAdult {
		t.Fatalf("expected 32 adult teeth, got %d %s", len(chart.Teeth), chart.Dentition)
	}
	for _, v := range chart.Teeth {
		if v.Tooth == "36" && (v.DisplayStatus != odontology.StatusAbsent || v.ProcedureCount != 3) {
			t.Errorf("unexpected view for 36: %s/%d", v.DisplayStatus, v.ProcedureCount)
		}
	}
	if chart.Summary.Total != 3 {
		t.Errorf("expected 3 procedures in summary, got %d", chart.Summary.Total)
	}

	if _, err := f.svc.Odontogram(ctx, uuid.New(), odontology.Filter{}); !errors.Is(err, odontology.ErrNotFound) {
		t.Errorf("expected not found for unknown patient, got %v", err)
	}
}

func TestService_ListAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, a := f.assigned(t)
	f.assigned(t)
	if _, err := f.svc.Abandon(ctx, f.student, a.ID, "cambio de turno"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	items, total, err := f.svc.ListAssignments(ctx, AssignmentFilter{StudentID: f.student.ID, Status: odontology.AssignmentActive}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ProcedureStatus != odontology.StatusInProgress {
		t.Errorf("expected one active item, got %d %+v", total, items)
	}
	if items[0].TreatmentName != "Obturación" || items[0].PatientID != f.patientID {
		t.Errorf("expected procedure details on the item, got %+v", items[0])
	}

	if _, _, err := f.svc.ListAssignments(ctx, AssignmentFilter{Status: "pending"}, 10, 0); !errors.Is(err, odontology.ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestRepoMem_WithinTxRollsBack(t *testing.T) {
	repo := NewRepoMem()
	ctx := context.Background()
	p := &odontology.Procedure{ID: uuid.New(), PatientID: uuid.New(), Status: odontology.StatusAvailable}

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := repo.Get(ctx, p.ID); !errors.Is(err, odontology.ErrNotFound) {
		t.Errorf("expected rollback to drop the procedure, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
