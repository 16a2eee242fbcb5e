package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tmxbot/envimix/internal/auth"
	"github.com/tmxbot/envimix/internal/handlers"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/internal/services"
	"github.com/tmxbot/envimix/internal/websocket"
	"github.com/tmxbot/envimix/pkg/chat"
	"github.com/tmxbot/envimix/pkg/nadeo"
)

// App holds all application dependencies
type App struct {
	log             logger.Logger
	handlers        *handlers.Handlers
	repo            *repository.Repository
	scheduler       *services.Scheduler
	cancelScheduler context.CancelFunc
}

// New creates and initializes a new application instance
func New(log logger.Logger, dbPath string, upstream nadeo.Client, chatClient chat.Client, cfg services.Config, adminAuth *auth.Auth) (*App, error) {
	repo, err := repository.New(dbPath)
	if err != nil {
		return nil, err
	}

	// Initialize services
	claimService := services.NewClaimService(log, repo, cfg)
	validationService := services.NewValidationService(log, repo, cfg)
	campaignService := services.NewCampaignService(log, repo, upstream, cfg)
	reportService := services.NewReportService(log, repo, chatClient, cfg)

	// The report service sits downstream of every state change; wire it in
	// after construction to break the cycle.
	claimService.SetReporter(reportService)
	validationService.SetReporter(reportService)
	campaignService.SetAnnouncer(reportService)

	// Initialize WebSocket hub with DI
	hub := websocket.New(log)
	hub.Start()
	reportService.SetBroadcaster(hub)

	scheduler, err := services.NewScheduler(log, campaignService)
	if err != nil {
		repo.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go scheduler.Run(ctx)

	h := handlers.New(
		claimService,
		validationService,
		campaignService,
		reportService,
		repo,
		repo,
		adminAuth,
		hub,
		log,
	)

	return &App{
		log:             log,
		handlers:        h,
		repo:            repo,
		scheduler:       scheduler,
		cancelScheduler: cancel,
	}, nil
}

// Router returns the configured HTTP router
func (a *App) Router() chi.Router {
	return a.handlers.Router()
}

// Close performs graceful shutdown of app resources
func (a *App) Close() {
	if a.cancelScheduler != nil {
		a.cancelScheduler()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// Run starts the HTTP server
func (a *App) Run(addr string) error {
	a.log.Info("Server starting", "addr", addr)
	return http.ListenAndServe(addr, a.Router())
}
