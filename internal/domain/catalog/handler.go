package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/chairs", h.ListChairs)
	api.GET("/treatments", h.ListTreatments)
	api.GET("/treatments/:id", h.GetTreatment)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/chairs", h.CreateChair)
	admin.POST("/treatments", h.CreateTreatment)
}

func (h *Handler) ListChairs(c echo.Context) error {
	chairs, err := h.svc.ListChairs(c.Request().Context())
	if err != nil {
		return err
	}
	if chairs == nil {
		chairs = []odontology.Chair{}
	}
	return c.JSON(http.StatusOK, chairs)
}

func (h *Handler) CreateChair(c echo.Context) error {
	var ch odontology.Chair
	if err := c.Bind(&ch); err != nil {
		return odontology.Validation("invalid request body")
	}
	if err := h.svc.CreateChair(c.Request().Context(), &ch); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ch)
}

func (h *Handler) ListTreatments(c echo.Context) error {
	var chairID *uuid.UUID
	if raw := c.QueryParam("chair_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return odontology.Validation("invalid chair_id")
		}
		chairID = &id
	}
	treatments, err := h.svc.ListTreatments(c.Request().Context(), chairID)
	if err != nil {
		return err
	}
	if treatments == nil {
		treatments = []odontology.Treatment{}
	}
	return c.JSON(http.StatusOK, treatments)
}

func (h *Handler) GetTreatment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return odontology.Validation("invalid id")
	}
	t, err := h.svc.GetTreatment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CreateTreatment(c echo.Context) error {
	var t odontology.Treatment
	if err := c.Bind(&t); err != nil {
		return odontology.Validation("invalid request body")
	}
	if err := h.svc.CreateTreatment(c.Request().Context(), &t); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}
