package client

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
)

func (c *Client) CreateProcedure(ctx context.Context, req odontology.CreateProcedureRequest) (*odontology.Procedure, error) {
	var out odontology.Procedure
	if err := c.do(ctx, http.MethodPost, "/patients/"+req.PatientID.String()+"/procedures", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssignProcedure(ctx context.Context, procedureID uuid.UUID) (*odontology.Assignment, error) {
	var out odontology.Assignment
	if err := c.do(ctx, http.MethodPost, "/procedures/"+procedureID.String()+"/assign", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CompleteAssignment(ctx context.Context, assignmentID uuid.UUID, finalNotes string) (*odontology.Assignment, error) {
	var out odontology.Assignment
	body := map[string]string{"final_notes": finalNotes}
	if err := c.do(ctx, http.MethodPost, "/assignments/"+assignmentID.String()+"/complete", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AbandonAssignment(ctx context.Context, assignmentID uuid.UUID, reason string) (*odontology.Assignment, error) {
	var out odontology.Assignment
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/assignments/"+assignmentID.String()+"/abandon", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelProcedure(ctx context.Context, procedureID uuid.UUID) (*odontology.Procedure, error) {
	var out odontology.Procedure
	if err := c.do(ctx, http.MethodPost, "/procedures/"+procedureID.String()+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProcedure(ctx context.Context, procedureID uuid.UUID, u odontology.ProcedureUpdate) (*odontology.Procedure, error) {
	var out odontology.Procedure
	if err := c.do(ctx, http.MethodPatch, "/procedures/"+procedureID.String(), u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error) {
	var out []odontology.Session
	if err := c.do(ctx, http.MethodGet, "/assignments/"+assignmentID.String()+"/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, assignmentID uuid.UUID, in odontology.SessionInput) (*procedure.SessionResult, error) {
	var out procedure.SessionResult
	if err := c.do(ctx, http.MethodPost, "/assignments/"+assignmentID.String()+"/sessions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSession(ctx context.Context, sessionID uuid.UUID, u odontology.SessionUpdate) (*procedure.SessionResult, error) {
	var out procedure.SessionResult
	if err := c.do(ctx, http.MethodPatch, "/sessions/"+sessionID.String(), u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID uuid.UUID) (*procedure.SessionResult, error) {
	var out procedure.SessionResult
	if err := c.do(ctx, http.MethodDelete, "/sessions/"+sessionID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
