package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

type CampaignService interface {
	Get(ctx context.Context, tenantID, id string) (campaign.Campaign, error)
	Start(ctx context.Context, tenantID, id string) (campaign.Campaign, error)
	Cancel(ctx context.Context, tenantID, id string) error
}

type CampaignHandler struct {
	campaigns CampaignService
	logger    *slog.Logger
}

func NewCampaignHandler(log *slog.Logger, campaigns CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		logger:    logger.OrDefault(log).With(slog.String("handler", "campaigns")),
	}
}

func (h *CampaignHandler) Register(e *echo.Echo) {
	group := e.Group("/campaigns")
	group.GET("/:id", h.Get)
	group.POST("/:id/start", h.Start)
	group.POST("/:id/cancel", h.Cancel)
}

func (h *CampaignHandler) Get(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	item, err := h.campaigns.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Start godoc
// @Summary Start a campaign
// @Description Queues the campaign send job; starting twice queues one job
// @Tags campaigns
// @Param id path string true "Campaign ID"
// @Success 202 {object} campaign.Campaign
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /campaigns/{id}/start [post]
func (h *CampaignHandler) Start(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	started, err := h.campaigns.Start(c.Request().Context(), tenantID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, started)
}

func (h *CampaignHandler) Cancel(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.campaigns.Cancel(c.Request().Context(), tenantID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
