package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/contest-notifier/internal/scheduler"
)

// ContestInfo describes one registry entry.
type ContestInfo struct {
	Name     string `json:"name" example:"leetcode-weekly"`
	Schedule string `json:"schedule" example:"cron:0 0 19 * * 0"`
	LeadTime string `json:"lead_time" example:"2h0m0s"`
	Channel  string `json:"channel" example:"email"`
	URL      string `json:"url,omitempty"`
	// NextOccurrence is the rule's next occurrence after the request time.
	NextOccurrence time.Time `json:"next_occurrence"`
}

// CatalogResponse lists every contest that can be subscribed to.
type CatalogResponse struct {
	Contests []ContestInfo `json:"contests"`
}

// ScheduleResponse is the scheduler snapshot.
type ScheduleResponse struct {
	Entries []scheduler.Entry `json:"entries"`
}

// ListCatalog godoc
// @ID          listCatalog
// @Summary     List known contests
// @Tags        Catalog
// @Produce     json
// @Success     200  {object}  handlers.CatalogResponse
// @Router      /catalog [get]
func (h *Handlers) ListCatalog(c *gin.Context) {
	now := time.Now()
	all := h.catalog.All()
	out := make([]ContestInfo, 0, len(all))
	for _, ct := range all {
		out = append(out, ContestInfo{
			Name:           ct.Name,
			Schedule:       ct.Rule.String(),
			LeadTime:       ct.LeadTime.String(),
			Channel:        ct.Channel,
			URL:            ct.URL,
			NextOccurrence: ct.Rule.Next(now),
		})
	}
	ok(c, http.StatusOK, CatalogResponse{Contests: out})
}

// GetSchedule godoc
// @ID          getSchedule
// @Summary     Scheduler state per contest
// @Tags        Catalog
// @Produce     json
// @Success     200  {object}  handlers.ScheduleResponse
// @Router      /schedule [get]
func (h *Handlers) GetSchedule(c *gin.Context) {
	if h.schedule == nil {
		ok(c, http.StatusOK, ScheduleResponse{Entries: []scheduler.Entry{}})
		return
	}
	ok(c, http.StatusOK, ScheduleResponse{Entries: h.schedule.Snapshot()})
}
