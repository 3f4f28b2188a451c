package odontology

import "strings"

// prosthesisKeywords maps the full-denture treatment names to the arch they cover.
var prosthesisKeywords = []struct {
	keyword string
	arch    Arch
}{
	{"completa superior", ArchUpper},
	{"completa inferior", ArchLower},
	{"completa total", ArchFull},
}

// ProsthesisArch reports the arch a full-denture treatment spans. The match is
// a case-insensitive substring match on the treatment name.
func ProsthesisArch(t Treatment) (Arch, bool) {
	name := strings.ToLower(t.Name)
	for _, k := range prosthesisKeywords {
		if strings.Contains(name, k.keyword) {
			return k.arch, true
		}
	}
	return "", false
}

// IsProsthesis reports whether t is a full-denture treatment.
func IsProsthesis(t Treatment) bool {
	_, ok := ProsthesisArch(t)
	return ok
}

// ActiveProsthesis returns the first prosthesis procedure that is still active.
// ausente counts as active: only finalizado and cancelado release the slot.
func ActiveProsthesis(procedures []Procedure) *Procedure {
	for i := range procedures {
		p := &procedures[i]
		if IsProsthesis(p.Treatment) && p.Status.Active() {
			return p
		}
	}
	return nil
}

// CheckProsthesisExclusivity fails with a conflict when the patient already has
// an active full-denture procedure.
func CheckProsthesisExclusivity(procedures []Procedure) error {
	if existing := ActiveProsthesis(procedures); existing != nil {
		return Conflict("patient already has an active prosthesis (%s, %s); finalize or cancel it before creating another",
			existing.Treatment.Name, existing.Status)
	}
	return nil
}
