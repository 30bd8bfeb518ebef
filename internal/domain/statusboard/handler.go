package statusboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicops/statusboard/internal/domain/activity"
	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/errs"
	"github.com/clinicops/statusboard/internal/platform/middleware"
)

const dashboardDoctorLimit = 100

type Handler struct {
	coord     *Coordinator
	directory *scheduling.Service
	feed      *activity.Feed
	loc       *time.Location
	now       func() time.Time
}

// NewHandler serves the board. directory and feed may be nil, in which case
// the dashboard omits doctors or activity.
func NewHandler(coord *Coordinator, directory *scheduling.Service, feed *activity.Feed, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{coord: coord, directory: directory, feed: feed, loc: loc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.ListAppointments)
	api.POST("/appointments/:id/status", h.ChangeStatus)
	api.GET("/appointments/:id/gate", h.Gate)
	api.GET("/dashboard", h.Dashboard)
}

type changeStatusRequest struct {
	Status scheduling.AppointmentStatus `json:"status"`
}

// ListAppointments loads one window from the store and returns its rows.
func (h *Handler) ListAppointments(c echo.Context) error {
	w, err := scheduling.ParseWindow(c.QueryParam("window"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rows, err := h.coord.LoadAppointments(c.Request().Context(), w)
	if err != nil {
		return errorResponse(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"window": w, "data": rows})
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req changeStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.coord.ChangeStatus(c.Request().Context(), id, req.Status, middleware.ActorFrom(c))
	if err != nil {
		return errorResponse(c, err, &out)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Gate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.coord.Gate(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err, nil)
	}
	return c.JSON(http.StatusOK, d)
}

// Dashboard returns the doctor list, every window of the view and the
// activity feed in one payload.
func (h *Handler) Dashboard(c echo.Context) error {
	resp := map[string]interface{}{}
	if h.directory != nil {
		doctors, _, err := h.directory.ListDoctors(c.Request().Context(), dashboardDoctorLimit, 0)
		if err != nil {
			return errorResponse(c, errs.Load("statusboard.Dashboard", err), nil)
		}
		resp["doctors"] = doctors
	}
	windows := make(map[scheduling.Window][]Row, len(scheduling.Windows))
	for _, w := range scheduling.Windows {
		windows[w] = h.coord.Rows(w)
	}
	resp["appointments"] = windows
	if h.feed != nil {
		resp["activity"] = h.feed.Items(h.now(), h.loc)
	}
	return c.JSON(http.StatusOK, resp)
}

// errorResponse maps a classified error to a status code. A failed write
// reports the status the view reverted to.
func errorResponse(c echo.Context, err error, out *Outcome) error {
	body := map[string]interface{}{"error": err.Error()}
	var gate *GateError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		switch {
		case errors.As(err, &gate):
			body["reason"] = gate.Decision.Reason
			return c.JSON(http.StatusConflict, body)
		case errors.Is(err, ErrMutationInFlight):
			return c.JSON(http.StatusConflict, body)
		case errors.Is(err, ErrUnknownAppointment):
			return c.JSON(http.StatusNotFound, body)
		}
		return c.JSON(http.StatusBadRequest, body)
	case errs.KindWrite:
		if out != nil {
			body["status"] = out.Status
		}
		return c.JSON(http.StatusBadGateway, body)
	case errs.KindLoad, errs.KindSubscription:
		body["retryable"] = true
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
