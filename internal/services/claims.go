package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/repository"
)

// ResultCode classifies the outcome of a claim-engine transition.
type ResultCode int

const (
	ResultOK ResultCode = iota
	// ResultAlreadyYours is the idempotent success for re-claiming your own
	// combination; no state changed.
	ResultAlreadyYours
	// ResultImpossibleDelivery is a claim against an impossible combination:
	// the file is delivered without any state change.
	ResultImpossibleDelivery
	ResultNotFound
	ResultAlreadyClaimed
	ResultNotClaimed
	ResultNotYours
	ResultAlreadyValidated
	ResultNotValidated
	ResultCooldown
	ResultNotAuthorized
)

// Result is the tagged outcome every claim-engine entry point returns.
type Result struct {
	Code    ResultCode
	Message string
	// Payload carries the combination's map file when the transition
	// delivers it (claim, impossible delivery).
	Payload []byte
	// Deadline is set for ResultCooldown: the moment the transition
	// becomes allowed.
	Deadline time.Time
}

// OK reports whether the result is any flavor of success.
func (r *Result) OK() bool {
	switch r.Code {
	case ResultOK, ResultAlreadyYours, ResultImpossibleDelivery:
		return true
	}
	return false
}

// Reporter is notified after transitions that change externally visible
// status. Implemented by the report service; settable late to break the
// construction cycle.
type Reporter interface {
	RefreshStatus(ctx context.Context, campaignID string) error
	CheckCompletion(ctx context.Context, campaignID string) error
}

// ClaimServiceRepository defines the repository methods needed by ClaimService
type ClaimServiceRepository interface {
	repository.CombinationRepository
	repository.ClaimantRepository
}

// ClaimService is the state machine governing a combination's claim
// lifecycle. All guards live here so every entry point (chat command, HTTP)
// behaves identically.
type ClaimService struct {
	log      logger.Logger
	repo     ClaimServiceRepository
	cfg      Config
	reporter Reporter
	now      func() time.Time
}

// NewClaimService creates a new ClaimService
func NewClaimService(log logger.Logger, repo ClaimServiceRepository, cfg Config) *ClaimService {
	return &ClaimService{log: log, repo: repo, cfg: cfg, now: time.Now}
}

// SetReporter sets the reporter notified after visible transitions
func (s *ClaimService) SetReporter(r Reporter) {
	s.reporter = r
}

// SetClock overrides the time source (tests only)
func (s *ClaimService) SetClock(now func() time.Time) {
	s.now = now
}

// Claim attaches the actor as claimant of the named combination and
// delivers its map file.
func (s *ClaimService) Claim(ctx context.Context, actor, name string) (*Result, error) {
	combo, err := s.repo.GetCombinationByName(ctx, name)
	if err == repository.ErrNotFound {
		return notFound(name), nil
	}
	if err != nil {
		return nil, err
	}

	// Impossible combinations are claim-exempt: anyone may take the file.
	if combo.Impossible {
		return &Result{
			Code:    ResultImpossibleDelivery,
			Message: fmt.Sprintf("%s is marked impossible - no claim needed, good luck", name),
			Payload: combo.Payload,
		}, nil
	}

	if combo.Validated {
		return alreadyValidated(combo), nil
	}

	if combo.ClaimantID == actor {
		return &Result{
			Code:    ResultAlreadyYours,
			Message: fmt.Sprintf("you already claimed %s", name),
			Payload: combo.Payload,
		}, nil
	}
	if combo.Claimed() {
		return &Result{
			Code:    ResultAlreadyClaimed,
			Message: fmt.Sprintf("%s is already claimed by <%s>", name, combo.ClaimantID),
		}, nil
	}

	if err := s.repo.EnsureClaimant(ctx, actor); err != nil {
		return nil, err
	}
	won, err := s.repo.ClaimCombination(ctx, combo.ID, actor, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent claim got there first.
		return &Result{
			Code:    ResultAlreadyClaimed,
			Message: fmt.Sprintf("%s was claimed a moment ago by someone else", name),
		}, nil
	}

	s.log.Info("Combination claimed", "name", name, "claimant", actor)
	s.notifyRefresh(ctx, combo.CampaignID)

	return &Result{
		Code:    ResultOK,
		Message: fmt.Sprintf("claimed %s - it is yours for now", name),
		Payload: combo.Payload,
	}, nil
}

// Unclaim releases the actor's claim. The super-user may release anyone's.
func (s *ClaimService) Unclaim(ctx context.Context, actor, name string) (*Result, error) {
	combo, err := s.repo.GetCombinationByName(ctx, name)
	if err == repository.ErrNotFound {
		return notFound(name), nil
	}
	if err != nil {
		return nil, err
	}

	if !combo.Claimed() {
		return &Result{
			Code:    ResultNotClaimed,
			Message: fmt.Sprintf("%s is not claimed", name),
		}, nil
	}
	if combo.Validated {
		return alreadyValidated(combo), nil
	}
	if combo.ClaimantID != actor && actor != s.cfg.SuperUser {
		return notYours(combo), nil
	}

	if err := s.repo.UnclaimCombination(ctx, combo.ID); err != nil {
		return nil, err
	}

	s.log.Info("Combination unclaimed", "name", name, "by", actor)
	s.notifyRefresh(ctx, combo.CampaignID)

	return &Result{
		Code:    ResultOK,
		Message: fmt.Sprintf("unclaimed %s", name),
	}, nil
}

// MarkImpossible flags a combination as unvalidatable as designed. Regular
// actors must own the claim and have held it past the cooldown; the
// super-user skips both guards. Validated combinations are closed to
// everyone.
func (s *ClaimService) MarkImpossible(ctx context.Context, actor, name string) (*Result, error) {
	combo, err := s.repo.GetCombinationByName(ctx, name)
	if err == repository.ErrNotFound {
		return notFound(name), nil
	}
	if err != nil {
		return nil, err
	}

	// A validated combination stays validated; flipping it impossible would
	// leave both flags set. The admin path for reopening one is Invalidate.
	if combo.Validated {
		return alreadyValidated(combo), nil
	}

	if actor != s.cfg.SuperUser {
		if !combo.Claimed() {
			return &Result{
				Code:    ResultNotClaimed,
				Message: fmt.Sprintf("%s is not claimed - claim it before giving up on it", combo.Name),
			}, nil
		}
		if combo.ClaimantID != actor {
			return notYours(combo), nil
		}
		if combo.ClaimedAt != nil {
			deadline := combo.ClaimedAt.Add(s.cfg.ClaimCooldown)
			if s.now().Before(deadline) {
				return &Result{
					Code:     ResultCooldown,
					Message:  fmt.Sprintf("hold %s a bit longer before giving up - try again at %s", name, deadline.UTC().Format(time.RFC3339)),
					Deadline: deadline,
				}, nil
			}
		}
	}

	if err := s.repo.SetImpossible(ctx, combo.ID, true); err != nil {
		return nil, err
	}

	s.log.Info("Combination marked impossible", "name", name, "by", actor)
	s.notifyRefresh(ctx, combo.CampaignID)
	s.notifyCompletion(ctx, combo.CampaignID)

	return &Result{
		Code:    ResultOK,
		Message: fmt.Sprintf("%s is now marked impossible - anyone may prove us wrong", name),
	}, nil
}

// Invalidate clears a validated combination back to unclaimed. Super-user
// only.
func (s *ClaimService) Invalidate(ctx context.Context, actor, name string) (*Result, error) {
	if actor != s.cfg.SuperUser {
		return &Result{
			Code:    ResultNotAuthorized,
			Message: "only the admin can invalidate a validation",
		}, nil
	}

	combo, err := s.repo.GetCombinationByName(ctx, name)
	if err == repository.ErrNotFound {
		return notFound(name), nil
	}
	if err != nil {
		return nil, err
	}

	if !combo.Validated {
		return &Result{
			Code:    ResultNotValidated,
			Message: fmt.Sprintf("%s is not validated", name),
		}, nil
	}

	if err := s.repo.InvalidateCombination(ctx, combo.ID); err != nil {
		return nil, err
	}

	s.log.Info("Combination invalidated", "name", name)
	s.notifyRefresh(ctx, combo.CampaignID)

	return &Result{
		Code:    ResultOK,
		Message: fmt.Sprintf("%s is open again", name),
	}, nil
}

// notifyRefresh triggers a status re-render; failures are logged, never
// surfaced to the actor whose transition already committed.
func (s *ClaimService) notifyRefresh(ctx context.Context, campaignID string) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.RefreshStatus(ctx, campaignID); err != nil {
		s.log.Warn("Status refresh failed", "campaign", campaignID, "error", err)
	}
}

func (s *ClaimService) notifyCompletion(ctx context.Context, campaignID string) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.CheckCompletion(ctx, campaignID); err != nil {
		s.log.Warn("Completion check failed", "campaign", campaignID, "error", err)
	}
}

func notFound(name string) *Result {
	return &Result{
		Code:    ResultNotFound,
		Message: fmt.Sprintf("no combination named %q exists", name),
	}
}

func notYours(combo *models.Combination) *Result {
	return &Result{
		Code:    ResultNotYours,
		Message: fmt.Sprintf("%s is claimed by <%s>, not you", combo.Name, combo.ClaimantID),
	}
}

func alreadyValidated(combo *models.Combination) *Result {
	return &Result{
		Code:    ResultAlreadyValidated,
		Message: fmt.Sprintf("%s is already validated", combo.Name),
	}
}
