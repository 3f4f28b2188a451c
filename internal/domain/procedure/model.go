package procedure

import (
	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

// Odontogram is the aggregated tooth chart of one patient.
type Odontogram struct {
	PatientID uuid.UUID              `json:"patient_id"`
	Dentition odontology.Dentition   `json:"dentition"`
	Filter    odontology.Filter      `json:"filter"`
	Teeth     []odontology.ToothView `json:"teeth"`
	Summary   odontology.Summary     `json:"summary"`
}

// AssignmentFilter narrows the assignment listing. Zero values match all.
type AssignmentFilter struct {
	StudentID uuid.UUID
	Status    odontology.AssignmentStatus
}

// AssignmentItem is an assignment with enough of its procedure to list it.
type AssignmentItem struct {
	odontology.Assignment
	PatientID       uuid.UUID           `json:"patient_id"`
	TreatmentName   string              `json:"treatment_name"`
	ToothFDI        odontology.ToothSet `json:"tooth_fdi"`
	ProcedureStatus odontology.Status   `json:"procedure_status"`
}

// SessionResult is returned by session mutations. ExceedsPlan is set when the
// procedure now has more completed sessions than planned; the change is kept.
type SessionResult struct {
	Session           *odontology.Session `json:"session,omitempty"`
	SessionsCompleted int                 `json:"sessions_completed"`
	SessionsTotal     int                 `json:"sessions_total"`
	ExceedsPlan       bool                `json:"exceeds_plan"`
}
