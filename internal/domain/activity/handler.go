package activity

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicops/statusboard/pkg/pagination"
)

type Handler struct {
	log  *Log
	feed *Feed
	loc  *time.Location
	now  func() time.Time
}

func NewHandler(log *Log, feed *Feed, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{log: log, feed: feed, loc: loc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/activity", h.ListActivity)
	api.GET("/activity/feed", h.LiveFeed)
}

// ListActivity reads the newest events from the store.
func (h *Handler) ListActivity(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	limit = pagination.Clamp(limit, DefaultLatestLimit, MaxLatestLimit)

	entries, err := h.log.Latest(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error":     err.Error(),
			"retryable": true,
		})
	}
	now := h.now()
	items := make([]FeedItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, render(e, now, h.loc))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// LiveFeed serves the in-memory feed kept current by change notifications.
func (h *Handler) LiveFeed(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": h.feed.Items(h.now(), h.loc)})
}
