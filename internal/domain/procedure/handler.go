package procedure

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/auth"
	"github.com/odontoclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/procedures", h.ListProcedures)
	api.GET("/patients/:id/odontogram", h.GetOdontogram)
	api.GET("/procedures/:id", h.GetProcedure)
	api.GET("/assignments", h.ListAssignments)
	api.GET("/assignments/:id", h.GetAssignment)
	api.GET("/assignments/:id/sessions", h.ListSessions)

	clinical := api.Group("", auth.RequireRole("professor", "student"))
	clinical.POST("/patients/:id/procedures", h.CreateProcedure)
	clinical.PATCH("/procedures/:id", h.UpdateProcedure)
	clinical.POST("/procedures/:id/cancel", h.CancelProcedure)
	clinical.POST("/procedures/:id/assign", h.AssignProcedure)
	clinical.POST("/assignments/:id/complete", h.CompleteAssignment)
	clinical.POST("/assignments/:id/abandon", h.AbandonAssignment)
	clinical.POST("/assignments/:id/sessions", h.CreateSession)
	clinical.PATCH("/sessions/:id", h.UpdateSession)
	clinical.DELETE("/sessions/:id", h.DeleteSession)
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, odontology.Validation("invalid id")
	}
	return id, nil
}

// createProcedureRequest accepts either an explicit intent or the
// auto_assign/status pair used by simpler clients.
type createProcedureRequest struct {
	odontology.CreateProcedureRequest
	AutoAssign bool              `json:"auto_assign"`
	Status     odontology.Status `json:"status"`
}

func (r createProcedureRequest) intent() odontology.CreationIntent {
	if r.Intent.Kind != "" {
		return r.Intent
	}
	if r.AutoAssign {
		return odontology.AutoAssignIntent()
	}
	status := r.Status
	if status == "" {
		status = odontology.StatusAvailable
	}
	return odontology.ManualIntent(status)
}

func (h *Handler) CreateProcedure(c echo.Context) error {
	patientID, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var req createProcedureRequest
	if err := c.Bind(&req); err != nil {
		return odontology.Validation("invalid request body")
	}
	in := req.CreateProcedureRequest
	in.PatientID = patientID
	in.Intent = req.intent()

	p, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProcedure(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	patientID, err := paramID(c)
	if err != nil {
		return err
	}
	procs, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	if procs == nil {
		procs = []odontology.Procedure{}
	}
	return c.JSON(http.StatusOK, procs)
}

func (h *Handler) GetOdontogram(c echo.Context) error {
	patientID, err := paramID(c)
	if err != nil {
		return err
	}
	var f odontology.Filter
	if raw := c.QueryParam("status"); raw != "" {
		status, err := odontology.ParseStatus(raw)
		if err != nil {
			return err
		}
		f.Status = status
	}
	if raw := c.QueryParam("chair_id"); raw != "" {
		chairID, err := uuid.Parse(raw)
		if err != nil {
			return odontology.Validation("invalid chair_id")
		}
		f.ChairID = chairID
	}
	chart, err := h.svc.Odontogram(c.Request().Context(), patientID, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chart)
}

func (h *Handler) UpdateProcedure(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var u odontology.ProcedureUpdate
	if err := c.Bind(&u); err != nil {
		return odontology.Validation("invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), actor, id, u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelProcedure(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	p, err := h.svc.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) AssignProcedure(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	a, err := h.svc.Assign(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type completeRequest struct {
	FinalNotes string `json:"final_notes"`
}

func (h *Handler) CompleteAssignment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return odontology.Validation("invalid request body")
	}
	a, err := h.svc.Complete(c.Request().Context(), actor, id, req.FinalNotes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AbandonAssignment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var req abandonRequest
	if err := c.Bind(&req); err != nil {
		return odontology.Validation("invalid request body")
	}
	a, err := h.svc.Abandon(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// ListAssignments accepts student_id=me as a shorthand for the caller.
func (h *Handler) ListAssignments(c echo.Context) error {
	var f AssignmentFilter
	switch raw := c.QueryParam("student_id"); raw {
	case "":
	case "me":
		actor, err := auth.ActorFromContext(c.Request().Context())
		if err != nil {
			return err
		}
		f.StudentID = actor.ID
	default:
		id, err := uuid.Parse(raw)
		if err != nil {
			return odontology.Validation("invalid student_id")
		}
		f.StudentID = id
	}
	f.Status = odontology.AssignmentStatus(c.QueryParam("status"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAssignments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []AssignmentItem{}
	}
	pagination.SetLinkHeader(c, pg, total)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListSessions(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	sessions, err := h.svc.ListSessions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *Handler) CreateSession(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var in odontology.SessionInput
	if err := c.Bind(&in); err != nil {
		return odontology.Validation("invalid request body")
	}
	res, err := h.svc.CreateSession(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) UpdateSession(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	var u odontology.SessionUpdate
	if err := c.Bind(&u); err != nil {
		return odontology.Validation("invalid request body")
	}
	res, err := h.svc.UpdateSession(c.Request().Context(), actor, id, u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteSession(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return err
	}
	res, err := h.svc.DeleteSession(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
