package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func (r *repoPG) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM patient WHERE id = $1 FOR UPDATE`, patientID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return odontology.NotFound("patient", patientID)
	}
	if err != nil {
		return fmt.Errorf("lock patient: %w", err)
	}
	return nil
}

// -- procedures --

const procedureSelect = `SELECT p.id, p.patient_id, p.tooth_fdi, p.tooth_surface, p.status, p.is_repair, p.notes,
	p.sessions_total, p.sessions_completed, p.created_by_id, p.created_by_name, p.created_by_role,
	p.created_at, p.updated_at,
	t.id, t.name, t.code, t.chair_id, c.name, t.default_sessions, t.sub_classes
	FROM procedure p
	JOIN treatment t ON t.id = p.treatment_id
	JOIN chair c ON c.id = t.chair_id`

func scanProcedure(row pgx.Row) (*odontology.Procedure, error) {
	var (
		p                        odontology.Procedure
		teeth, surface, status   string
		creatorName, creatorRole string
		subClasses               []byte
	)
	err := row.Scan(&p.ID, &p.PatientID, &teeth, &surface, &status, &p.IsRepair, &p.Notes,
		&p.SessionsTotal, &p.SessionsCompleted, &p.CreatedBy.ID, &creatorName, &creatorRole,
		&p.CreatedAt, &p.UpdatedAt,
		&p.Treatment.ID, &p.Treatment.Name, &p.Treatment.Code, &p.Treatment.ChairID, &p.Treatment.ChairName,
		&p.Treatment.DefaultSessions, &subClasses)
	if err != nil {
		return nil, err
	}
	p.ToothFDI = odontology.ParseToothSet(teeth)
	p.ToothSurface = odontology.Surface(surface)
	p.Status = odontology.Status(status)
	p.CreatedBy.Name = creatorName
	p.CreatedBy.Role = odontology.Role(creatorRole)
	if len(subClasses) > 0 {
		if err := json.Unmarshal(subClasses, &p.Treatment.SubClasses); err != nil {
			return nil, fmt.Errorf("decode sub_classes: %w", err)
		}
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *odontology.Procedure) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO procedure (id, patient_id, treatment_id, tooth_fdi, tooth_surface, status, is_repair, notes,
			sessions_total, sessions_completed, created_by_id, created_by_name, created_by_role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.PatientID, p.Treatment.ID, p.ToothFDI.String(), string(p.ToothSurface), string(p.Status), p.IsRepair, p.Notes,
		p.SessionsTotal, p.SessionsCompleted, p.CreatedBy.ID, p.CreatedBy.Name, string(p.CreatedBy.Role), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert procedure: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*odontology.Procedure, error) {
	query := procedureSelect + ` WHERE p.id = $1`
	if lock {
		query += ` FOR UPDATE OF p`
	}
	p, err := scanProcedure(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, odontology.NotFound("procedure", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get procedure: %w", err)
	}
	if err := r.attachAssignments(ctx, []*odontology.Procedure{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*odontology.Procedure, error) {
	return r.get(ctx, id, false)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*odontology.Procedure, error) {
	return r.get(ctx, id, true)
}

func (r *repoPG) Update(ctx context.Context, p *odontology.Procedure) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE procedure SET treatment_id = $2, tooth_fdi = $3, tooth_surface = $4, status = $5, is_repair = $6,
			notes = $7, sessions_total = $8, sessions_completed = $9, updated_at = $10
		WHERE id = $1`,
		p.ID, p.Treatment.ID, p.ToothFDI.String(), string(p.ToothSurface), string(p.Status), p.IsRepair,
		p.Notes, p.SessionsTotal, p.SessionsCompleted, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update procedure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return odontology.NotFound("procedure", p.ID)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]odontology.Procedure, error) {
	rows, err := r.conn(ctx).Query(ctx, procedureSelect+` WHERE p.patient_id = $1 ORDER BY p.seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var ptrs []*odontology.Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachAssignments(ctx, ptrs); err != nil {
		return nil, err
	}

	out := make([]odontology.Procedure, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out, nil
}

func (r *repoPG) attachAssignments(ctx context.Context, procs []*odontology.Procedure) error {
	if len(procs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(procs))
	byID := make(map[uuid.UUID]*odontology.Procedure, len(procs))
	for i, p := range procs {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assignmentCols+` FROM assignment WHERE procedure_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return err
		}
		if p := byID[a.ProcedureID]; p != nil {
			p.Assignments = append(p.Assignments, *a)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range procs {
		if n := len(p.Assignments); n > 0 {
			last := p.Assignments[n-1]
			p.Assignment = &last
		}
	}
	return nil
}

// -- assignments --

const assignmentCols = `id, procedure_id, student_id, student_name, status, sessions_completed, session_seq,
	notes, final_notes, abandon_reason, assigned_at, completed_at, abandoned_at`

func scanAssignment(row pgx.Row) (*odontology.Assignment, error) {
	var (
		a      odontology.Assignment
		status string
	)
	err := row.Scan(&a.ID, &a.ProcedureID, &a.Student.ID, &a.Student.Name, &status, &a.SessionsCompleted, &a.SessionSeq,
		&a.Notes, &a.FinalNotes, &a.AbandonReason, &a.AssignedAt, &a.CompletedAt, &a.AbandonedAt)
	if err != nil {
		return nil, err
	}
	a.Status = odontology.AssignmentStatus(status)
	a.Student.Role = odontology.RoleStudent
	return &a, nil
}

func (r *repoPG) CreateAssignment(ctx context.Context, a *odontology.Assignment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO assignment (`+assignmentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.ProcedureID, a.Student.ID, a.Student.Name, string(a.Status), a.SessionsCompleted, a.SessionSeq,
		a.Notes, a.FinalNotes, a.AbandonReason, a.AssignedAt, a.CompletedAt, a.AbandonedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return odontology.Conflict("procedure already has an active assignment")
	}
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateAssignment(ctx context.Context, a *odontology.Assignment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE assignment SET status = $2, sessions_completed = $3, session_seq = $4, notes = $5,
			final_notes = $6, abandon_reason = $7, completed_at = $8, abandoned_at = $9
		WHERE id = $1`,
		a.ID, string(a.Status), a.SessionsCompleted, a.SessionSeq, a.Notes,
		a.FinalNotes, a.AbandonReason, a.CompletedAt, a.AbandonedAt)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return odontology.NotFound("assignment", a.ID)
	}
	return nil
}

func (r *repoPG) GetAssignment(ctx context.Context, id uuid.UUID) (*odontology.Assignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx, `SELECT `+assignmentCols+` FROM assignment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, odontology.NotFound("assignment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (r *repoPG) ListAssignments(ctx context.Context, f AssignmentFilter, limit, offset int) ([]AssignmentItem, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR a.student_id = $1) AND ($2 = '' OR a.status = $2)`
	var student *uuid.UUID
	if f.StudentID != uuid.Nil {
		student = &f.StudentID
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM assignment a`+where, student, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, a.procedure_id, a.student_id, a.student_name, a.status, a.sessions_completed, a.session_seq,
			a.notes, a.final_notes, a.abandon_reason, a.assigned_at, a.completed_at, a.abandoned_at,
			p.patient_id, t.name, p.tooth_fdi, p.status
		FROM assignment a
		JOIN procedure p ON p.id = a.procedure_id
		JOIN treatment t ON t.id = p.treatment_id`+where+`
		ORDER BY a.seq DESC LIMIT $3 OFFSET $4`,
		student, string(f.Status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var items []AssignmentItem
	for rows.Next() {
		var (
			it                     AssignmentItem
			status, teeth, pStatus string
		)
		if err := rows.Scan(&it.ID, &it.ProcedureID, &it.Student.ID, &it.Student.Name, &status,
			&it.SessionsCompleted, &it.SessionSeq, &it.Notes, &it.FinalNotes, &it.AbandonReason,
			&it.AssignedAt, &it.CompletedAt, &it.AbandonedAt,
			&it.PatientID, &it.TreatmentName, &teeth, &pStatus); err != nil {
			return nil, 0, err
		}
		it.Status = odontology.AssignmentStatus(status)
		it.Student.Role = odontology.RoleStudent
		it.ToothFDI = odontology.ParseToothSet(teeth)
		it.ProcedureStatus = odontology.Status(pStatus)
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// -- sessions --

const sessionCols = `id, assignment_id, session_number, session_date, notes, status, created_by_id, created_by_name, created_at`

func scanSession(row pgx.Row) (*odontology.Session, error) {
	var (
		s      odontology.Session
		status string
	)
	if err := row.Scan(&s.ID, &s.AssignmentID, &s.SessionNumber, &s.SessionDate, &s.Notes, &status,
		&s.CreatedBy.ID, &s.CreatedBy.Name, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Status = odontology.SessionStatus(status)
	return &s, nil
}

func (r *repoPG) CreateSession(ctx context.Context, s *odontology.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO session (`+sessionCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.AssignmentID, s.SessionNumber, s.SessionDate, s.Notes, string(s.Status),
		s.CreatedBy.ID, s.CreatedBy.Name, s.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return odontology.Conflict("session number %d already exists", s.SessionNumber)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateSession(ctx context.Context, s *odontology.Session) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE session SET session_date = $2, notes = $3, status = $4 WHERE id = $1`,
		s.ID, s.SessionDate, s.Notes, string(s.Status))
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return odontology.NotFound("session", s.ID)
	}
	return nil
}

func (r *repoPG) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM session WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return odontology.NotFound("session", id)
	}
	return nil
}

func (r *repoPG) GetSession(ctx context.Context, id uuid.UUID) (*odontology.Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM session WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, odontology.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *repoPG) ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sessionCols+` FROM session WHERE assignment_id = $1 ORDER BY session_number`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []odontology.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
