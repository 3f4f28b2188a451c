package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateChair(ctx context.Context, ch *odontology.Chair) error {
	ch.Name = strings.TrimSpace(ch.Name)
	ch.Code = strings.ToUpper(strings.TrimSpace(ch.Code))
	if ch.Name == "" || ch.Code == "" {
		return odontology.Validation("chair name and code are required")
	}
	return s.repo.CreateChair(ctx, ch)
}

func (s *Service) ListChairs(ctx context.Context) ([]odontology.Chair, error) {
	return s.repo.ListChairs(ctx)
}

func (s *Service) CreateTreatment(ctx context.Context, t *odontology.Treatment) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	if t.Name == "" || t.Code == "" {
		return odontology.Validation("treatment name and code are required")
	}
	if t.DefaultSessions < 0 {
		return odontology.Validation("default_sessions must not be negative")
	}
	for _, sc := range t.SubClasses {
		if strings.TrimSpace(sc.Name) == "" {
			return odontology.Validation("sub-class name is required")
		}
	}
	ch, err := s.repo.GetChair(ctx, t.ChairID)
	if err != nil {
		return err
	}
	t.ChairName = ch.Name
	return s.repo.CreateTreatment(ctx, t)
}

// ListTreatments returns the catalog, narrowed to one chair when chairID is set.
func (s *Service) ListTreatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error) {
	return s.repo.ListTreatments(ctx, chairID)
}

func (s *Service) GetTreatment(ctx context.Context, id uuid.UUID) (*odontology.Treatment, error) {
	return s.repo.GetTreatment(ctx, id)
}
