package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

func (r *repoPG) CreateChair(ctx context.Context, ch *odontology.Chair) error {
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO chair (id, name, code) VALUES ($1, $2, $3)`, ch.ID, ch.Name, ch.Code)
	if isUniqueViolation(err) {
		return odontology.Conflict("chair code %q already exists", ch.Code)
	}
	return err
}

func (r *repoPG) ListChairs(ctx context.Context) ([]odontology.Chair, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, code FROM chair ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list chairs: %w", err)
	}
	defer rows.Close()

	var out []odontology.Chair
	for rows.Next() {
		var ch odontology.Chair
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Code); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (r *repoPG) GetChair(ctx context.Context, id uuid.UUID) (*odontology.Chair, error) {
	var ch odontology.Chair
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, code FROM chair WHERE id = $1`, id).Scan(&ch.ID, &ch.Name, &ch.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, odontology.NotFound("chair", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get chair: %w", err)
	}
	return &ch, nil
}

const treatmentCols = `t.id, t.name, t.code, t.chair_id, c.name, t.default_sessions, t.sub_classes`

func scanTreatment(row pgx.Row) (*odontology.Treatment, error) {
	var (
		t   odontology.Treatment
		raw []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Code, &t.ChairID, &t.ChairName, &t.DefaultSessions, &raw); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.SubClasses); err != nil {
			return nil, fmt.Errorf("decode sub_classes of %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (r *repoPG) CreateTreatment(ctx context.Context, t *odontology.Treatment) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	subs, err := json.Marshal(t.SubClasses)
	if err != nil {
		return err
	}
	if t.SubClasses == nil {
		subs = []byte("[]")
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment (id, chair_id, name, code, default_sessions, sub_classes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.ChairID, t.Name, t.Code, t.DefaultSessions, subs)
	if isUniqueViolation(err) {
		return odontology.Conflict("treatment code %q already exists", t.Code)
	}
	return err
}

func (r *repoPG) ListTreatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error) {
	query := `SELECT ` + treatmentCols + ` FROM treatment t JOIN chair c ON c.id = t.chair_id`
	var args []interface{}
	if chairID != nil {
		query += ` WHERE t.chair_id = $1`
		args = append(args, *chairID)
	}
	query += ` ORDER BY c.name, t.name`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list treatments: %w", err)
	}
	defer rows.Close()

	var out []odontology.Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *repoPG) GetTreatment(ctx context.Context, id uuid.UUID) (*odontology.Treatment, error) {
	t, err := scanTreatment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+treatmentCols+` FROM treatment t JOIN chair c ON c.id = t.chair_id WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, odontology.NotFound("treatment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get treatment: %w", err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
