package odontology

import "github.com/google/uuid"

// Filter narrows the procedures that color the chart. Zero values mean "all".
type Filter struct {
	Status  Status    `json:"status,omitempty"`
	ChairID uuid.UUID `json:"chair_id,omitempty"`
}

// Match reports whether p passes both filters.
func (f Filter) Match(p Procedure) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.ChairID != uuid.Nil && p.Treatment.ChairID != f.ChairID {
		return false
	}
	return true
}

// displayPrecedence is the order in which statuses claim a tooth's color.
// cancelado never colors a tooth.
var displayPrecedence = []Status{
	StatusAbsent,
	StatusInProgress,
	StatusAvailable,
	StatusFinished,
	StatusContraindicated,
}

// ToothView is the derived per-tooth view model.
type ToothView struct {
	Tooth         Tooth       `json:"tooth_fdi"`
	DisplayStatus Status      `json:"display_status,omitempty"`
	Procedures    []Procedure `json:"procedures"`
	// ProcedureCount counts every procedure touching the tooth, ignoring filters.
	ProcedureCount int `json:"procedure_count"`
}

// DisplayStatus returns the first status of the precedence order present in
// bucket, or "" when none is.
func DisplayStatus(bucket []Procedure) Status {
	present := make(map[Status]bool, len(bucket))
	for _, p := range bucket {
		present[p.Status] = true
	}
	for _, s := range displayPrecedence {
		if present[s] {
			return s
		}
	}
	return ""
}

// FilterProcedures returns the procedures matching f, preserving order.
func FilterProcedures(procedures []Procedure, f Filter) []Procedure {
	out := make([]Procedure, 0, len(procedures))
	for _, p := range procedures {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

func bucketByTooth(procedures []Procedure) map[Tooth][]Procedure {
	buckets := make(map[Tooth][]Procedure)
	for _, p := range procedures {
		for _, t := range p.ToothFDI {
			buckets[t] = append(buckets[t], p)
		}
	}
	return buckets
}

// BuildOdontogram computes one view per tooth of the dentition, in chart order,
// followed by any other tooth referenced by a procedure in ascending order.
// Filters decide color and the listed procedures; the count is unfiltered.
// The function is pure: equal inputs give equal outputs.
func BuildOdontogram(procedures []Procedure, dentition Dentition, f Filter) []ToothView {
	all := bucketByTooth(procedures)
	filtered := bucketByTooth(FilterProcedures(procedures, f))

	chart := ArchTeeth(dentition, ArchFull)
	var extra []Tooth
	for t := range all {
		if !chart.Contains(t) {
			extra = append(extra, t)
		}
	}
	sortTeeth(extra)

	views := make([]ToothView, 0, len(chart)+len(extra))
	for _, t := range append(chart, extra...) {
		bucket := filtered[t]
		if bucket == nil {
			bucket = []Procedure{}
		}
		views = append(views, ToothView{
			Tooth:          t,
			DisplayStatus:  DisplayStatus(bucket),
			Procedures:     bucket,
			ProcedureCount: len(all[t]),
		})
	}
	return views
}

// Summary counts procedures per status. Active excludes ausente along with the
// closed statuses.
type Summary struct {
	ByStatus map[Status]int `json:"by_status"`
	Active   int            `json:"active"`
	Total    int            `json:"total"`
}

// Summarize counts a patient's procedures.
func Summarize(procedures []Procedure) Summary {
	s := Summary{ByStatus: make(map[Status]int)}
	for _, p := range procedures {
		s.ByStatus[p.Status]++
		s.Total++
		if p.Status.Active() && p.Status != StatusAbsent {
			s.Active++
		}
	}
	return s
}
