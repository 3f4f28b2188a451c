package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type Service struct {
	repo              Repository
	pediatricAgeLimit int
	now               func() time.Time
}

// NewService builds the patient service. pediatricAgeLimit is the age in whole
// years below which a patient is charted with primary teeth; zero selects the
// default.
func NewService(repo Repository, pediatricAgeLimit int) *Service {
	if pediatricAgeLimit <= 0 {
		pediatricAgeLimit = odontology.DefaultPediatricAgeLimit
	}
	return &Service{repo: repo, pediatricAgeLimit: pediatricAgeLimit, now: time.Now}
}

// View is a patient together with the dentition it is charted with today.
type View struct {
	odontology.Patient
	Age       int                  `json:"age"`
	Dentition odontology.Dentition `json:"dentition"`
}

func (s *Service) view(p *odontology.Patient) *View {
	now := s.now()
	return &View{Patient: *p, Age: p.AgeAt(now), Dentition: p.DentitionAt(now, s.pediatricAgeLimit)}
}

func (s *Service) Create(ctx context.Context, p *odontology.Patient) (*View, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return nil, odontology.Validation("full_name is required")
	}
	if p.BirthDate.After(s.now()) {
		return nil, odontology.Validation("birth_date cannot be in the future")
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.view(p), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(p), nil
}

func (s *Service) List(ctx context.Context, query string, limit, offset int) ([]View, int, error) {
	patients, total, err := s.repo.List(ctx, strings.TrimSpace(query), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]View, 0, len(patients))
	for i := range patients {
		out = append(out, *s.view(&patients[i]))
	}
	return out, total, nil
}

// Dentition resolves the tooth numbering set a patient is charted with.
func (s *Service) Dentition(ctx context.Context, id uuid.UUID) (odontology.Dentition, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return v.Dentition, nil
}
