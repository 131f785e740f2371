package activity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/orcoord/orcoord/internal/platform/auth"
	"github.com/orcoord/orcoord/pkg/pagination"
)

type Handler struct {
	lister Lister
}

func NewHandler(lister Lister) *Handler {
	return &Handler{lister: lister}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleScheduler))
	readGroup.GET("/activities", h.ListActivities)
}

func (h *Handler) ListActivities(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.lister.Recent(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
