package odontology

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentKind names how a new procedure enters the lifecycle.
type IntentKind string

const (
	IntentManual     IntentKind = "manual"
	IntentAutoAssign IntentKind = "auto_assign"
)

// CreationIntent is either a manual creation in an explicit initial status or
// an auto-assignment of the new procedure to its creator.
type CreationIntent struct {
	Kind   IntentKind `json:"kind"`
	Status Status     `json:"status,omitempty"`
}

// ManualIntent creates the procedure in status.
func ManualIntent(status Status) CreationIntent {
	return CreationIntent{Kind: IntentManual, Status: status}
}

// AutoAssignIntent creates the procedure and immediately assigns it to the creator.
func AutoAssignIntent() CreationIntent {
	return CreationIntent{Kind: IntentAutoAssign}
}

var manualInitialStatuses = map[Status]bool{
	StatusAvailable:       true,
	StatusContraindicated: true,
	StatusAbsent:          true,
}

func (i CreationIntent) Validate() error {
	switch i.Kind {
	case IntentManual:
		if !manualInitialStatuses[i.Status] {
			return Validation("a new procedure can start as disponible, contraindicado or ausente, not %q", i.Status)
		}
	case IntentAutoAssign:
		if i.Status != "" {
			return Validation("auto-assigned procedures cannot carry an explicit status")
		}
	default:
		return Validation("unknown creation intent %q", i.Kind)
	}
	return nil
}

// CreateProcedureRequest is the input of procedure creation.
type CreateProcedureRequest struct {
	PatientID     uuid.UUID      `json:"patient_id"`
	TreatmentID   uuid.UUID      `json:"treatment_id"`
	ToothFDI      ToothSet       `json:"tooth_fdi"`
	ToothSurface  Surface        `json:"tooth_surface,omitempty"`
	IsRepair      bool           `json:"is_repair"`
	Notes         *string        `json:"notes,omitempty"`
	SessionsTotal int            `json:"sessions_total,omitempty"`
	Intent        CreationIntent `json:"intent"`
}

// Validate checks the request before any collaborator is contacted.
func (r CreateProcedureRequest) Validate() error {
	if r.PatientID == uuid.Nil {
		return Validation("patient_id is required")
	}
	if r.TreatmentID == uuid.Nil {
		return Validation("a treatment must be selected")
	}
	if err := r.Intent.Validate(); err != nil {
		return err
	}
	if !r.ToothSurface.Valid() {
		return Validation("invalid tooth surface %q", r.ToothSurface)
	}
	if r.SessionsTotal < 0 {
		return Validation("sessions_total cannot be negative")
	}
	return r.ToothFDI.Validate()
}

// NewProcedure builds the procedure described by req. Prosthesis treatments are
// checked against existing for exclusivity and receive every tooth of their arch.
// With an auto-assign intent the result is already in proceso with an activa
// assignment held by actor.
func NewProcedure(req CreateProcedureRequest, treatment Treatment, dentition Dentition, existing []Procedure, actor User, now time.Time) (*Procedure, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if treatment.ID != req.TreatmentID {
		return nil, Validation("treatment %s does not match the request", treatment.ID)
	}

	teeth := NewToothSet(req.ToothFDI...)
	surface := req.ToothSurface
	if arch, ok := ProsthesisArch(treatment); ok {
		if err := CheckProsthesisExclusivity(existing); err != nil {
			return nil, err
		}
		teeth = ArchTeeth(dentition, arch)
		surface = ""
	}

	total := req.SessionsTotal
	if total == 0 {
		total = treatment.DefaultSessions
	}
	if total == 0 {
		total = 1
	}

	var notes *string
	if req.Notes != nil {
		notes = strPtr(strings.TrimSpace(*req.Notes))
	}

	p := &Procedure{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		Treatment:     treatment,
		ToothFDI:      teeth,
		ToothSurface:  surface,
		Status:        StatusAvailable,
		IsRepair:      req.IsRepair,
		Notes:         notes,
		SessionsTotal: total,
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch req.Intent.Kind {
	case IntentManual:
		p.Status = req.Intent.Status
	case IntentAutoAssign:
		if _, err := Assign(p, actor, now); err != nil {
			return nil, err
		}
	}
	return p, nil
}
