package surgery

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
	readGroup.GET("/surgeries", h.ListSurgeries)
	readGroup.GET("/surgeries/:id", h.GetSurgery)
	readGroup.GET("/surgeries/:id/timeline", h.GetTimeline)
	readGroup.GET("/ongoing-surgeries", h.ListOngoing)
	readGroup.GET("/or-rooms", h.ListORRooms)
	readGroup.GET("/or-rooms/:id", h.GetORRoom)

	// Scheduling endpoints – admin, scheduler
	scheduleGroup := api.Group("", auth.RequireRole(auth.RoleScheduler))
	scheduleGroup.POST("/surgeries", h.CreateSurgery)
	scheduleGroup.PUT("/surgeries/:id", h.UpdateSurgery)
	scheduleGroup.DELETE("/surgeries/:id", h.DeleteSurgery)
	scheduleGroup.POST("/surgeries/:id/room", h.AssignRoom)
	scheduleGroup.POST("/surgeries/:id/team", h.AssignTeam)
	scheduleGroup.POST("/or-rooms", h.CreateORRoom)
	scheduleGroup.PUT("/or-rooms/:id", h.UpdateORRoom)
	scheduleGroup.DELETE("/or-rooms/:id", h.DeleteORRoom)

	// Workflow endpoints – scheduler and OR floor staff
	workflowGroup := api.Group("", auth.RequireRole(auth.RoleScheduler, auth.RoleORStaff, auth.RoleNurse))
	workflowGroup.POST("/surgeries/:id/advance", h.Advance)
	workflowGroup.POST("/surgeries/:id/handover", h.Handover)
	workflowGroup.PUT("/surgeries/:id/log", h.RecordLog)
}

// RegisterPublicRoutes mounts the unauthenticated patient-status lookup.
func (h *Handler) RegisterPublicRoutes(pub *echo.Group) {
	pub.GET("/patient-status/:mrn", h.PublicStatus)
	pub.GET("/patient-status/:mrn/timeline", h.PublicTimeline)
}

// httpError maps service errors onto HTTP statuses. Rejected workflow
// operations carry their reason code so clients can tell "not yet" from
// "try again".
func httpError(err error) error {
	var te *TransitionError
	var se *StoreError
	switch {
	case errors.As(err, &te):
		body := map[string]interface{}{"code": te.Code, "message": te.Error()}
		if len(te.Missing) > 0 {
			body["missing"] = te.Missing
		}
		return echo.NewHTTPError(http.StatusConflict, body)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "surgery not found")
	case errors.Is(err, ErrRoomNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "or room not found")
	case errors.Is(err, ErrDuplicateRoom):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"message":   "storage unavailable",
			"retryable": se.Retryable,
		})
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

// -- Surgery Handlers --

func (h *Handler) CreateSurgery(c echo.Context) error {
	var s Surgery
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSurgery(c.Request().Context(), &s, actor(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSurgery(c echo.Context) error {
	s, err := h.svc.GetSurgery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSurgeries(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{MRN: c.QueryParam("mrn"), Room: c.QueryParam("room")}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = st
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.QueryParam(param)
		if v == "" {
			continue
		}
		t, err := parseTimeParam(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
		}
		*dst = &t
	}
	items, total, err := h.svc.ListSurgeries(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) UpdateSurgery(c echo.Context) error {
	var p SurgeryPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.UpdateSurgery(c.Request().Context(), c.Param("id"), p, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteSurgery(c echo.Context) error {
	if err := h.svc.DeleteSurgery(c.Request().Context(), c.Param("id"), actor(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type assignRoomRequest struct {
	Room string `json:"room"`
}

func (h *Handler) AssignRoom(c echo.Context) error {
	var req assignRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.AssignRoom(c.Request().Context(), c.Param("id"), req.Room, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) AssignTeam(c echo.Context) error {
	var team Team
	if err := c.Bind(&team); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.AssignTeam(c.Request().Context(), c.Param("id"), team, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

type advanceRequest struct {
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason"`
}

func (h *Handler) Advance(c echo.Context) error {
	var req advanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.Advance(c.Request().Context(), c.Param("id"), target, req.CancelReason, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

type handoverRequest struct {
	Notes         string     `json:"notes"`
	ReceivingTeam []StaffRef `json:"receiving_team"`
}

func (h *Handler) Handover(c echo.Context) error {
	var req handoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.Handover(c.Request().Context(), c.Param("id"), req.Notes, req.ReceivingTeam, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) RecordLog(c echo.Context) error {
	var l SurgeryLog
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.svc.RecordLog(c.Request().Context(), c.Param("id"), l, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetTimeline(c echo.Context) error {
	data, err := h.svc.Timeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) ListOngoing(c echo.Context) error {
	items, err := h.svc.ListOngoing(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Public Handlers --

func (h *Handler) PublicStatus(c echo.Context) error {
	p, err := h.svc.PublicStatus(c.Request().Context(), c.Param("mrn"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no surgery found for this patient")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PublicTimeline(c echo.Context) error {
	data, err := h.svc.PublicTimeline(c.Request().Context(), c.Param("mrn"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no surgery found for this patient")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, data)
}

// -- OR Room Handlers --

func (h *Handler) CreateORRoom(c echo.Context) error {
	var r ORRoom
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateORRoom(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetORRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetORRoom(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListORRooms(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListORRooms(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateORRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetORRoom(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	current := r.Status
	if err := c.Bind(r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if r.Status == "" {
		r.Status = current
	}
	if err := h.svc.UpdateORRoom(c.Request().Context(), r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteORRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteORRoom(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
