package odontology

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func newUser(role Role) User {
	return User{ID: uuid.New(), Name: string(role), Role: role}
}

func newTreatment(name string) Treatment {
	return Treatment{ID: uuid.New(), Name: name, ChairID: uuid.New()}
}

func newProcedure(creator User, status Status, teeth ...Tooth) *Procedure {
	return &Procedure{
		ID:            uuid.New(),
		PatientID:     uuid.New(),
		Treatment:     newTreatment("Obturación"),
		ToothFDI:      NewToothSet(teeth...),
		Status:        status,
		SessionsTotal: 2,
		CreatedBy:     creator,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func mustAssign(t *testing.T, p *Procedure, actor User) *Assignment {
	t.Helper()
	a, err := Assign(p, actor, testNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return a
}
