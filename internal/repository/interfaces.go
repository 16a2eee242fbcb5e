package repository

import (
	"context"
	"time"

	"github.com/tmxbot/envimix/internal/models"
)

// ValidationUpdate is one accepted submission applied as part of a batch.
type ValidationUpdate struct {
	CombinationID int64
	ClaimantID    string
	Payload       []byte
	At            time.Time
}

// ClaimantCount is a claimant's validation tally within a campaign.
type ClaimantCount struct {
	ClaimantID string
	Count      int
}

// CampaignRepository defines campaign data operations
type CampaignRepository interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	// CreateCampaign persists a campaign and its full combination set in
	// one transaction; a campaign is never committed without its maps.
	CreateCampaign(ctx context.Context, campaign models.Campaign, combos []models.Combination) error
	SetCampaignStatusRef(ctx context.Context, id, channelID, messageID string) error
	SetCampaignNewsRef(ctx context.Context, id, channelID, messageID string) error
}

// CarRepository defines car data operations
type CarRepository interface {
	EnsureCar(ctx context.Context, id string) error
	ListCars(ctx context.Context) ([]models.Car, error)
}

// ClaimantRepository defines claimant data operations
type ClaimantRepository interface {
	EnsureClaimant(ctx context.Context, id string) error
}

// CombinationRepository defines combination data operations
type CombinationRepository interface {
	GetCombinationByName(ctx context.Context, name string) (*models.Combination, error)
	GetCombinationByOriginal(ctx context.Context, originalUID, carID string) (*models.Combination, error)
	ListCombinations(ctx context.Context, campaignID string) ([]models.Combination, error)
	CreateCombinations(ctx context.Context, combos []models.Combination) error
	DeleteCombination(ctx context.Context, id int64) error
	// RebuildCombination replaces a combination's generated identity and
	// payload and resets its claim/validation state.
	RebuildCombination(ctx context.Context, combo models.Combination) error
	// ClaimCombination attaches a claimant only if the combination is
	// currently unclaimed and not validated. Returns false when a
	// concurrent claim won the race.
	ClaimCombination(ctx context.Context, id int64, claimantID string, at time.Time) (bool, error)
	UnclaimCombination(ctx context.Context, id int64) error
	SetImpossible(ctx context.Context, id int64, impossible bool) error
	// InvalidateCombination clears validated, impossible, claimant and
	// claim timestamp together.
	InvalidateCombination(ctx context.Context, id int64) error
	// ApplyValidations commits a validation batch in one transaction.
	ApplyValidations(ctx context.Context, updates []ValidationUpdate) error
	CountValidationsByClaimant(ctx context.Context, campaignID string) ([]ClaimantCount, error)
}

// FullRepository combines all repository interfaces
// Use this when a service needs access to multiple domains
type FullRepository interface {
	CampaignRepository
	CarRepository
	ClaimantRepository
	CombinationRepository
}

// Ensure Repository implements all interfaces
var _ FullRepository = (*Repository)(nil)
