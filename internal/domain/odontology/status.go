package odontology

// Status is the lifecycle status of a PatientProcedure.
type Status string

const (
	StatusAvailable       Status = "disponible"
	StatusInProgress      Status = "proceso"
	StatusFinished        Status = "finalizado"
	StatusContraindicated Status = "contraindicado"
	StatusAbsent          Status = "ausente"
	StatusCancelled       Status = "cancelado"
)

// AssignmentStatus is the lifecycle status of a student's claim on a procedure.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "activa"
	AssignmentCompleted AssignmentStatus = "completada"
	AssignmentAbandoned AssignmentStatus = "abandonada"
)

// SessionStatus is the status of a single recorded clinical visit.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "programada"
	SessionCompleted SessionStatus = "completada"
	SessionCancelled SessionStatus = "cancelada"
)

var validStatuses = map[Status]bool{
	StatusAvailable:       true,
	StatusInProgress:      true,
	StatusFinished:        true,
	StatusContraindicated: true,
	StatusAbsent:          true,
	StatusCancelled:       true,
}

var validAssignmentStatuses = map[AssignmentStatus]bool{
	AssignmentActive:    true,
	AssignmentCompleted: true,
	AssignmentAbandoned: true,
}

var validSessionStatuses = map[SessionStatus]bool{
	SessionScheduled: true,
	SessionCompleted: true,
	SessionCancelled: true,
}

// procedureTransitions lists, for each status, the statuses it may move to.
// ausente may only be retracted through cancel; finalizado and cancelado are terminal.
var procedureTransitions = map[Status][]Status{
	StatusAvailable:       {StatusInProgress, StatusContraindicated, StatusCancelled},
	StatusContraindicated: {StatusAvailable, StatusCancelled},
	StatusInProgress:      {StatusFinished, StatusAvailable},
	StatusAbsent:          {StatusCancelled},
	StatusFinished:        {},
	StatusCancelled:       {},
}

var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentActive:    {AssignmentCompleted, AssignmentAbandoned},
	AssignmentCompleted: {},
	AssignmentAbandoned: {},
}

// Valid reports whether s belongs to the closed procedure status vocabulary.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(procedureTransitions[s]) == 0
}

// Active reports whether a procedure in s still counts as open work.
// Only finalizado and cancelado close a procedure.
func (s Status) Active() bool {
	return s != StatusFinished && s != StatusCancelled
}

// Editable reports whether notes and treatment may still change.
func (s Status) Editable() bool {
	return s == StatusAvailable || s == StatusContraindicated
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range procedureTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not permitted.
func ValidateTransition(from, to Status) error {
	if !from.Valid() {
		return Validation("unknown procedure status %q", from)
	}
	if !to.Valid() {
		return Validation("unknown procedure status %q", to)
	}
	if !from.CanTransitionTo(to) {
		return InvalidTransition("procedure cannot move from %s to %s", from, to)
	}
	return nil
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", Validation("unknown procedure status %q", raw)
	}
	return s, nil
}

// Valid reports whether s belongs to the assignment status vocabulary.
func (s AssignmentStatus) Valid() bool { return validAssignmentStatuses[s] }

// CanTransitionTo reports whether the assignment lifecycle allows moving from s to next.
func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	for _, allowed := range assignmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s belongs to the session status vocabulary.
func (s SessionStatus) Valid() bool { return validSessionStatuses[s] }
