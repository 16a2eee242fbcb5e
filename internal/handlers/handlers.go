package handlers

import (
	"context"
	"net/http"

	"github.com/tmxbot/envimix/internal/auth"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/services"
	"github.com/tmxbot/envimix/internal/websocket"
)

// MapProvider resolves a combination by its display name for downloads.
type MapProvider interface {
	GetCombinationByName(ctx context.Context, name string) (*models.Combination, error)
}

// CampaignLister lists tracked campaigns for the public index.
type CampaignLister interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	Claims     services.ClaimServicer
	Validation services.ValidationServicer
	Campaigns  services.CampaignServicer
	Reports    services.ReportServicer
	Maps       MapProvider
	Lister     CampaignLister
	Auth       *auth.Auth
	Hub        *websocket.Hub
	Log        logger.Logger
}

// New creates a new Handlers instance with all dependencies
func New(
	claims services.ClaimServicer,
	validation services.ValidationServicer,
	campaigns services.CampaignServicer,
	reports services.ReportServicer,
	maps MapProvider,
	lister CampaignLister,
	adminAuth *auth.Auth,
	hub *websocket.Hub,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Claims:     claims,
		Validation: validation,
		Campaigns:  campaigns,
		Reports:    reports,
		Maps:       maps,
		Lister:     lister,
		Auth:       adminAuth,
		Hub:        hub,
		Log:        log,
	}
}

// actorFromRequest reads the acting chat account from the request. The bot
// front end forwards its user id in a header; JSON bodies may override it.
func actorFromRequest(r *http.Request, bodyActor string) string {
	if bodyActor != "" {
		return bodyActor
	}
	return r.Header.Get("X-Claimant")
}
