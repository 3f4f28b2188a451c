package odontology

import (
	"time"

	"github.com/google/uuid"
)

// Role is the coarse capability class of a user.
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleAdmin     Role = "admin"
)

// User is the acting user or a reference to one stored on a record.
type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
	Role Role      `json:"role,omitempty"`
}

// Chair is an academic department (cátedra) owning a set of treatments.
type Chair struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Code string    `json:"code,omitempty"`
}

// SubClass is an optional refinement of a treatment with its selectable options.
type SubClass struct {
	Name    string   `json:"name"`
	Options []string `json:"options,omitempty"`
}

// Treatment is a treatment type offered by a chair.
type Treatment struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Code            string     `json:"code,omitempty"`
	ChairID         uuid.UUID  `json:"chair_id"`
	ChairName       string     `json:"chair_name,omitempty"`
	DefaultSessions int        `json:"default_sessions,omitempty"`
	SubClasses      []SubClass `json:"sub_classes,omitempty"`
}

// Patient is the person whose procedures are charted.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	BirthDate time.Time `json:"birth_date"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultPediatricAgeLimit is the age in whole years below which primary teeth are charted.
const DefaultPediatricAgeLimit = 12

// AgeAt returns the patient's age in whole years at now.
func (p Patient) AgeAt(now time.Time) int {
	if p.BirthDate.IsZero() {
		return 0
	}
	years := now.Year() - p.BirthDate.Year()
	anniversary := p.BirthDate.AddDate(years, 0, 0)
	if now.Before(anniversary) {
		years--
	}
	return years
}

// DentitionAt classifies the patient for charting. A missing birth date charts as adult.
func (p Patient) DentitionAt(now time.Time, pediatricAgeLimit int) Dentition {
	if pediatricAgeLimit <= 0 {
		pediatricAgeLimit = DefaultPediatricAgeLimit
	}
	if p.BirthDate.IsZero() || p.AgeAt(now) >= pediatricAgeLimit {
		return DentitionAdult
	}
	return DentitionPediatric
}

// Surface is a single-letter tooth surface code.
type Surface string

const (
	SurfaceOcclusal   Surface = "O"
	SurfaceMesial     Surface = "M"
	SurfaceDistal     Surface = "D"
	SurfaceVestibular Surface = "V"
	SurfaceLingual    Surface = "L"
)

// Valid reports whether s is empty or one of the five surface codes.
func (s Surface) Valid() bool {
	switch s {
	case "", SurfaceOcclusal, SurfaceMesial, SurfaceDistal, SurfaceVestibular, SurfaceLingual:
		return true
	}
	return false
}

// Procedure is a PatientProcedure: one planned or executed clinical act.
type Procedure struct {
	ID                uuid.UUID    `json:"id"`
	PatientID         uuid.UUID    `json:"patient_id"`
	Treatment         Treatment    `json:"treatment"`
	ToothFDI          ToothSet     `json:"tooth_fdi"`
	ToothSurface      Surface      `json:"tooth_surface,omitempty"`
	Status            Status       `json:"status"`
	IsRepair          bool         `json:"is_repair"`
	Notes             *string      `json:"notes,omitempty"`
	SessionsTotal     int          `json:"sessions_total"`
	SessionsCompleted int          `json:"sessions_completed"`
	CreatedBy         User         `json:"created_by"`
	Assignment        *Assignment  `json:"assignment,omitempty"`
	Assignments       []Assignment `json:"assignments,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// ActiveAssignment returns the procedure's activa assignment, if any.
func (p *Procedure) ActiveAssignment() *Assignment {
	if p.Assignment != nil && p.Assignment.Status == AssignmentActive {
		return p.Assignment
	}
	for i := range p.Assignments {
		if p.Assignments[i].Status == AssignmentActive {
			return &p.Assignments[i]
		}
	}
	return nil
}

// ExceedsPlan reports whether more sessions were completed than planned.
func (p *Procedure) ExceedsPlan() bool {
	return p.SessionsTotal > 0 && p.SessionsCompleted > p.SessionsTotal
}

// Assignment is a student's claim on exactly one procedure.
type Assignment struct {
	ID                uuid.UUID        `json:"id"`
	ProcedureID       uuid.UUID        `json:"procedure_id"`
	Student           User             `json:"student"`
	Status            AssignmentStatus `json:"status"`
	SessionsCompleted int              `json:"sessions_completed"`
	SessionSeq        int              `json:"session_seq"`
	Notes             *string          `json:"notes,omitempty"`
	FinalNotes        *string          `json:"final_notes,omitempty"`
	AbandonReason     *string          `json:"abandon_reason,omitempty"`
	AssignedAt        time.Time        `json:"assigned_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	AbandonedAt       *time.Time       `json:"abandoned_at,omitempty"`
}

// Session is a TreatmentSession: one clinical visit recorded against an assignment.
type Session struct {
	ID            uuid.UUID     `json:"id"`
	AssignmentID  uuid.UUID     `json:"assignment_id"`
	SessionNumber int           `json:"session_number"`
	SessionDate   time.Time     `json:"session_date"`
	Notes         *string       `json:"notes,omitempty"`
	Status        SessionStatus `json:"status"`
	CreatedBy     User          `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
