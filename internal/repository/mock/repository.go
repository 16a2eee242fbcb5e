package mock

import (
	"context"
	"time"

	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/repository"
)

// Repository wraps a real repository and allows injecting errors for testing.
// This provides a flexible way to test error paths without complex database
// manipulation.
//
// Usage:
//
//	realRepo := testutil.NewTestRepository(t)
//	mockRepo := mock.NewRepository(realRepo)
//	mockRepo.ClaimCombinationError = errors.New("database error")
//	svc := services.NewClaimService(log, mockRepo, cfg)
type Repository struct {
	repository.FullRepository

	// ===== Campaign Errors =====
	GetCampaignError          error
	ListCampaignsError        error
	CreateCampaignError       error
	SetCampaignStatusRefError error
	SetCampaignNewsRefError   error

	// ===== Car / Claimant Errors =====
	EnsureCarError      error
	ListCarsError       error
	EnsureClaimantError error

	// ===== Combination Errors =====
	GetCombinationByNameError       error
	GetCombinationByOriginalError   error
	ListCombinationsError           error
	CreateCombinationsError         error
	DeleteCombinationError          error
	RebuildCombinationError         error
	ClaimCombinationError           error
	UnclaimCombinationError         error
	SetImpossibleError              error
	InvalidateCombinationError      error
	ApplyValidationsError           error
	CountValidationsByClaimantError error
}

// NewRepository creates a mock wrapping the given real repository
func NewRepository(real repository.FullRepository) *Repository {
	return &Repository{FullRepository: real}
}

func (m *Repository) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	if m.GetCampaignError != nil {
		return nil, m.GetCampaignError
	}
	return m.FullRepository.GetCampaign(ctx, id)
}

func (m *Repository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	if m.ListCampaignsError != nil {
		return nil, m.ListCampaignsError
	}
	return m.FullRepository.ListCampaigns(ctx)
}

func (m *Repository) CreateCampaign(ctx context.Context, campaign models.Campaign, combos []models.Combination) error {
	if m.CreateCampaignError != nil {
		return m.CreateCampaignError
	}
	return m.FullRepository.CreateCampaign(ctx, campaign, combos)
}

func (m *Repository) SetCampaignStatusRef(ctx context.Context, id, channelID, messageID string) error {
	if m.SetCampaignStatusRefError != nil {
		return m.SetCampaignStatusRefError
	}
	return m.FullRepository.SetCampaignStatusRef(ctx, id, channelID, messageID)
}

func (m *Repository) SetCampaignNewsRef(ctx context.Context, id, channelID, messageID string) error {
	if m.SetCampaignNewsRefError != nil {
		return m.SetCampaignNewsRefError
	}
	return m.FullRepository.SetCampaignNewsRef(ctx, id, channelID, messageID)
}

func (m *Repository) EnsureCar(ctx context.Context, id string) error {
	if m.EnsureCarError != nil {
		return m.EnsureCarError
	}
	return m.FullRepository.EnsureCar(ctx, id)
}

func (m *Repository) ListCars(ctx context.Context) ([]models.Car, error) {
	if m.ListCarsError != nil {
		return nil, m.ListCarsError
	}
	return m.FullRepository.ListCars(ctx)
}

func (m *Repository) EnsureClaimant(ctx context.Context, id string) error {
	if m.EnsureClaimantError != nil {
		return m.EnsureClaimantError
	}
	return m.FullRepository.EnsureClaimant(ctx, id)
}

func (m *Repository) GetCombinationByName(ctx context.Context, name string) (*models.Combination, error) {
	if m.GetCombinationByNameError != nil {
		return nil, m.GetCombinationByNameError
	}
	return m.FullRepository.GetCombinationByName(ctx, name)
}

func (m *Repository) GetCombinationByOriginal(ctx context.Context, originalUID, carID string) (*models.Combination, error) {
	if m.GetCombinationByOriginalError != nil {
		return nil, m.GetCombinationByOriginalError
	}
	return m.FullRepository.GetCombinationByOriginal(ctx, originalUID, carID)
}

func (m *Repository) ListCombinations(ctx context.Context, campaignID string) ([]models.Combination, error) {
	if m.ListCombinationsError != nil {
		return nil, m.ListCombinationsError
	}
	return m.FullRepository.ListCombinations(ctx, campaignID)
}

func (m *Repository) CreateCombinations(ctx context.Context, combos []models.Combination) error {
	if m.CreateCombinationsError != nil {
		return m.CreateCombinationsError
	}
	return m.FullRepository.CreateCombinations(ctx, combos)
}

func (m *Repository) DeleteCombination(ctx context.Context, id int64) error {
	if m.DeleteCombinationError != nil {
		return m.DeleteCombinationError
	}
	return m.FullRepository.DeleteCombination(ctx, id)
}

func (m *Repository) RebuildCombination(ctx context.Context, combo models.Combination) error {
	if m.RebuildCombinationError != nil {
		return m.RebuildCombinationError
	}
	return m.FullRepository.RebuildCombination(ctx, combo)
}

func (m *Repository) ClaimCombination(ctx context.Context, id int64, claimantID string, at time.Time) (bool, error) {
	if m.ClaimCombinationError != nil {
		return false, m.ClaimCombinationError
	}
	return m.FullRepository.ClaimCombination(ctx, id, claimantID, at)
}

func (m *Repository) UnclaimCombination(ctx context.Context, id int64) error {
	if m.UnclaimCombinationError != nil {
		return m.UnclaimCombinationError
	}
	return m.FullRepository.UnclaimCombination(ctx, id)
}

func (m *Repository) SetImpossible(ctx context.Context, id int64, impossible bool) error {
	if m.SetImpossibleError != nil {
		return m.SetImpossibleError
	}
	return m.FullRepository.SetImpossible(ctx, id, impossible)
}

func (m *Repository) InvalidateCombination(ctx context.Context, id int64) error {
	if m.InvalidateCombinationError != nil {
		return m.InvalidateCombinationError
	}
	return m.FullRepository.InvalidateCombination(ctx, id)
}

func (m *Repository) ApplyValidations(ctx context.Context, updates []repository.ValidationUpdate) error {
	if m.ApplyValidationsError != nil {
		return m.ApplyValidationsError
	}
	return m.FullRepository.ApplyValidations(ctx, updates)
}

func (m *Repository) CountValidationsByClaimant(ctx context.Context, campaignID string) ([]repository.ClaimantCount, error) {
	if m.CountValidationsByClaimantError != nil {
		return nil, m.CountValidationsByClaimantError
	}
	return m.FullRepository.CountValidationsByClaimant(ctx, campaignID)
}
