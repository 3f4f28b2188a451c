package odontology

import (
	"encoding/json"
	"sort"
	"strings"
)

// Tooth is a two-digit FDI tooth number: quadrant followed by position.
type Tooth string

// Valid reports whether t is a permanent (quadrants 1-4, positions 1-8) or
// primary (quadrants 5-8, positions 1-5) FDI number.
func (t Tooth) Valid() bool {
	if len(t) != 2 {
		return false
	}
	q, p := t[0], t[1]
	switch {
	case q >= '1' && q <= '4':
		return p >= '1' && p <= '8'
	case q >= '5' && q <= '8':
		return p >= '1' && p <= '5'
	}
	return false
}

// Upper reports whether t belongs to the maxillary arch.
func (t Tooth) Upper() bool {
	if len(t) == 0 {
		return false
	}
	switch t[0] {
	case '1', '2', '5', '6':
		return true
	}
	return false
}

// ToothSet is an ordered set of teeth. Order is insertion order; duplicates are dropped.
type ToothSet []Tooth

// NewToothSet builds a set from teeth, keeping the first occurrence of each.
func NewToothSet(teeth ...Tooth) ToothSet {
	seen := make(map[Tooth]bool, len(teeth))
	out := make(ToothSet, 0, len(teeth))
	for _, t := range teeth {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ParseToothSet splits a comma-separated FDI list. Blank entries are ignored.
func ParseToothSet(raw string) ToothSet {
	if strings.TrimSpace(raw) == "" {
		return ToothSet{}
	}
	parts := strings.Split(raw, ",")
	teeth := make([]Tooth, 0, len(parts))
	for _, p := range parts {
		teeth = append(teeth, Tooth(strings.TrimSpace(p)))
	}
	return NewToothSet(teeth...)
}

// String joins the set with commas, the wire and storage representation.
func (s ToothSet) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// Contains reports whether t is a member of s.
func (s ToothSet) Contains(t Tooth) bool {
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

// Validate returns a validation error naming the first invalid tooth.
func (s ToothSet) Validate() error {
	for _, t := range s {
		if !t.Valid() {
			return Validation("invalid FDI tooth number %q", t)
		}
	}
	return nil
}

func (s ToothSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the comma-separated string form or a JSON array.
func (s *ToothSet) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*s = ParseToothSet(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	teeth := make([]Tooth, len(list))
	for i, t := range list {
		teeth[i] = Tooth(strings.TrimSpace(t))
	}
	*s = NewToothSet(teeth...)
	return nil
}

// Dentition selects the numbering set used for a patient.
type Dentition string

const (
	DentitionAdult     Dentition = "adult"
	DentitionPediatric Dentition = "pediatric"
)

// Arch selects a subset of a dentition.
type Arch string

const (
	ArchUpper Arch = "upper"
	ArchLower Arch = "lower"
	ArchFull  Arch = "full"
)

// Chart order: each quadrant from the midline outwards, upper right, upper left,
// lower left, lower right, matching how the odontogram is drawn.
var (
	adultUpper = ToothSet{
		"18", "17", "16", "15", "14", "13", "12", "11",
		"21", "22", "23", "24", "25", "26", "27", "28",
	}
	adultLower = ToothSet{
		"48", "47", "46", "45", "44", "43", "42", "41",
		"31", "32", "33", "34", "35", "36", "37", "38",
	}
	pediatricUpper = ToothSet{
		"55", "54", "53", "52", "51",
		"61", "62", "63", "64", "65",
	}
	pediatricLower = ToothSet{
		"85", "84", "83", "82", "81",
		"71", "72", "73", "74", "75",
	}
)

// ArchTeeth returns a fresh copy of every tooth of arch in dentition d.
func ArchTeeth(d Dentition, arch Arch) ToothSet {
	upper, lower := adultUpper, adultLower
	if d == DentitionPediatric {
		upper, lower = pediatricUpper, pediatricLower
	}
	var out ToothSet
	switch arch {
	case ArchUpper:
		out = append(out, upper...)
	case ArchLower:
		out = append(out, lower...)
	default:
		out = append(out, upper...)
		out = append(out, lower...)
	}
	return out
}

func sortTeeth(teeth []Tooth) {
	sort.Slice(teeth, func(i, j int) bool { return teeth[i] < teeth[j] })
}
