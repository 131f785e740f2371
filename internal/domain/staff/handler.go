package staff

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orcoord/orcoord/internal/platform/auth"
	"github.com/orcoord/orcoord/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	// Read endpoints – everyone working the OR
	readGroup := api.Group("", auth.RequireRole(auth.RoleScheduler, auth.RoleORStaff, auth.RoleNurse))
	readGroup.GET("/staff", h.ListStaff)
	readGroup.GET("/staff/on-duty", h.OnDuty)
	readGroup.GET("/staff/:id", h.GetStaff)
	readGroup.GET("/shifts", h.ListShifts)
	readGroup.GET("/shifts/current", h.CurrentShift)

	// Roster management – admin, scheduler
	writeGroup := api.Group("", auth.RequireRole(auth.RoleScheduler))
	writeGroup.POST("/staff", h.CreateStaff)
	writeGroup.PUT("/staff/:id", h.UpdateStaff)
	writeGroup.DELETE("/staff/:id", h.DeleteStaff)
	writeGroup.POST("/shifts", h.AssignShift)
	writeGroup.DELETE("/shifts/:id", h.RemoveShift)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "staff not found")
	case errors.Is(err, ErrShiftNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "shift assignment not found")
	case errors.Is(err, ErrDuplicateShift):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func actor(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return uid
	}
	return "anonymous"
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Staff Handlers --

func (h *Handler) CreateStaff(c echo.Context) error {
	var st Staff
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateStaff(c.Request().Context(), &st, actor(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := StaffFilter{Role: c.QueryParam("role"), ActiveOnly: c.QueryParam("active") == "true"}
	items, total, err := h.svc.ListStaff(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// UpdateStaff binds the request over the stored record, so omitted fields
// keep their values.
func (h *Handler) UpdateStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st.ID = id
	if err := h.svc.UpdateStaff(c.Request().Context(), st, actor(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteStaff(c.Request().Context(), id, actor(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// OnDuty accepts an optional RFC 3339 "at" query parameter.
func (h *Handler) OnDuty(c echo.Context) error {
	at := h.svc.now()
	if v := c.QueryParam("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid at")
		}
		at = t
	}
	team, err := h.svc.OnDuty(c.Request().Context(), at)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, team)
}

// -- Shift Handlers --

func (h *Handler) AssignShift(c echo.Context) error {
	var a ShiftAssignment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AssignShift(c.Request().Context(), &a, actor(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListShifts(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ShiftFilter{Role: c.QueryParam("role")}
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Date = d
	}
	if v := c.QueryParam("shift"); v != "" {
		k, err := ParseShiftKey(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Shift = k
	}
	if v := c.QueryParam("staff_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid staff_id")
		}
		f.StaffID = &id
	}
	items, total, err := h.svc.ListShifts(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CurrentShift(c echo.Context) error {
	roster, err := h.svc.CurrentRoster(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, roster)
}

func (h *Handler) RemoveShift(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveShift(c.Request().Context(), id, actor(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
