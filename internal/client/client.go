// Package client talks to a clinic server over its JSON API. It implements
// workflow.Backend so the procedure engine can run against a remote clinic.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/patient"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
	"github.com/odontoclinic/clinic/internal/platform/middleware"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithToken authenticates with a bearer token instead of identity headers.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithClinic sets the X-Clinic-ID header sent in development mode.
func WithClinic(clinicID string) Option {
	return func(cl *Client) { cl.clinicID = clinicID }
}

// Client is a clinic API client acting as one user. Without a token the
// identity is sent in the X-User-* headers understood by a server running
// with development auth.
type Client struct {
	baseURL    string
	actor      odontology.User
	token      string
	clinicID   string
	httpClient *http.Client
}

// New builds a client for the API rooted at baseURL, e.g.
// http://localhost:8000/api/v1.
func New(baseURL string, actor odontology.User, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		actor:      actor,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do sends a JSON request and decodes a 2xx body into out. Non-2xx responses
// become *odontology.Error values carrying the server's kind and message.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("X-User-ID", c.actor.ID.String())
		req.Header.Set("X-User-Name", c.actor.Name)
		req.Header.Set("X-User-Role", string(c.actor.Role))
		if c.clinicID != "" {
			req.Header.Set("X-Clinic-ID", c.clinicID)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body middleware.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Kind == "" {
		body = middleware.ErrorBody{
			Kind:    middleware.KindForStatus(resp.StatusCode),
			Message: strings.TrimSpace(string(raw)),
		}
	}
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	return &odontology.Error{Kind: body.Kind, Message: body.Message}
}

func (c *Client) FetchProcedures(ctx context.Context, patientID uuid.UUID) ([]odontology.Procedure, error) {
	var out []odontology.Procedure
	if err := c.do(ctx, http.MethodGet, "/patients/"+patientID.String()+"/procedures", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchDentition(ctx context.Context, patientID uuid.UUID) (odontology.Dentition, error) {
	var v patient.View
	if err := c.do(ctx, http.MethodGet, "/patients/"+patientID.String(), nil, &v); err != nil {
		return "", err
	}
	return v.Dentition, nil
}

func (c *Client) FetchChairs(ctx context.Context) ([]odontology.Chair, error) {
	var out []odontology.Chair
	if err := c.do(ctx, http.MethodGet, "/chairs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchTreatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error) {
	path := "/treatments"
	if chairID != nil {
		path += "?" + url.Values{"chair_id": {chairID.String()}}.Encode()
	}
	var out []odontology.Treatment
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Odontogram fetches the server-side chart, bypassing any local snapshot.
func (c *Client) Odontogram(ctx context.Context, patientID uuid.UUID, f odontology.Filter) (*procedure.Odontogram, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.ChairID != uuid.Nil {
		q.Set("chair_id", f.ChairID.String())
	}
	path := "/patients/" + patientID.String() + "/odontogram"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out procedure.Odontogram
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePatient(ctx context.Context, p odontology.Patient) (*patient.View, error) {
	body := map[string]string{"full_name": p.FullName}
	if !p.BirthDate.IsZero() {
		body["birth_date"] = p.BirthDate.Format("2006-01-02")
	}
	var out patient.View
	if err := c.do(ctx, http.MethodPost, "/patients", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateChair(ctx context.Context, ch odontology.Chair) (*odontology.Chair, error) {
	var out odontology.Chair
	if err := c.do(ctx, http.MethodPost, "/chairs", ch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTreatment(ctx context.Context, t odontology.Treatment) (*odontology.Treatment, error) {
	var out odontology.Treatment
	if err := c.do(ctx, http.MethodPost, "/treatments", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
