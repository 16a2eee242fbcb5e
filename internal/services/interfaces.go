package services

import (
	"context"

	"github.com/tmxbot/envimix/internal/models"
)

// ClaimServicer defines the interface for claim operations
type ClaimServicer interface {
	Claim(ctx context.Context, actor, name string) (*Result, error)
	Unclaim(ctx context.Context, actor, name string) (*Result, error)
	MarkImpossible(ctx context.Context, actor, name string) (*Result, error)
	Invalidate(ctx context.Context, actor, name string) (*Result, error)
	SetReporter(r Reporter)
}

// ValidationServicer defines the interface for submission validation
type ValidationServicer interface {
	Validate(ctx context.Context, actor string, sub Submission) (*BatchResult, error)
	SetReporter(r Reporter)
}

// CampaignServicer defines the interface for campaign lifecycle operations
type CampaignServicer interface {
	BuildSeasonal(ctx context.Context, submitter string) (*models.Campaign, error)
	BuildClub(ctx context.Context, clubID, submitter string) (*models.Campaign, error)
	Fix(ctx context.Context, campaignID string) (*FixResult, error)
	SetAnnouncer(a Announcer)
}

// ReportServicer defines the interface for status reporting and dumps
type ReportServicer interface {
	RenderStatus(ctx context.Context, campaignID string) (string, error)
	RefreshStatus(ctx context.Context, campaignID string) error
	Announce(ctx context.Context, campaignID string) error
	CheckCompletion(ctx context.Context, campaignID string) error
	Dump(ctx context.Context, campaignID string) error
	SetBroadcaster(b Broadcaster)
}

// Ensure concrete types implement interfaces
var (
	_ ClaimServicer      = (*ClaimService)(nil)
	_ ValidationServicer = (*ValidationService)(nil)
	_ CampaignServicer   = (*CampaignService)(nil)
	_ ReportServicer     = (*ReportService)(nil)
	_ Builder            = (*CampaignService)(nil)
	_ Announcer          = (*ReportService)(nil)
)
