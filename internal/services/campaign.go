package services

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tmxbot/envimix/internal/errors"
	"github.com/tmxbot/envimix/internal/generator"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/pkg/gbx"
	"github.com/tmxbot/envimix/pkg/nadeo"
)

// CampaignServiceRepository is the slice of the repository the builder needs.
type CampaignServiceRepository interface {
	repository.CampaignRepository
	repository.CarRepository
	repository.CombinationRepository
}

// FixResult summarizes what a reconcile pass changed.
type FixResult struct {
	Pruned    int `json:"pruned"`
	Created   int `json:"created"`
	Rebuilt   int `json:"rebuilt"`
	Unchanged int `json:"unchanged"`
}

// Announcer is the part of the reporter the builder drives after a commit.
type Announcer interface {
	Reporter
	Announce(ctx context.Context, campaignID string) error
}

// CampaignService builds envimix campaigns from upstream ones and keeps
// them reconciled when the upstream playlist changes.
type CampaignService struct {
	log       logger.Logger
	repo      CampaignServiceRepository
	upstream  nadeo.Client
	cfg       Config
	specs     []generator.CarSpec
	announcer Announcer
	now       func() time.Time
}

// NewCampaignService creates the builder with the stock car specs.
func NewCampaignService(log logger.Logger, repo CampaignServiceRepository, upstream nadeo.Client, cfg Config) *CampaignService {
	return &CampaignService{
		log:      log,
		repo:     repo,
		upstream: upstream,
		cfg:      cfg,
		specs:    generator.DefaultSpecs(),
		now:      time.Now,
	}
}

// SetAnnouncer wires the reporter after construction, mirroring the other
// services' late binding.
func (s *CampaignService) SetAnnouncer(a Announcer) {
	s.announcer = a
}

// SetClock overrides the time source in tests.
func (s *CampaignService) SetClock(now func() time.Time) {
	s.now = now
}

// BuildSeasonal fetches the current official campaign and builds its envimix
// counterpart.
func (s *CampaignService) BuildSeasonal(ctx context.Context, submitter string) (*models.Campaign, error) {
	upstream, err := s.upstream.FetchSeasonalCampaign(ctx)
	if err != nil {
		return nil, errors.Upstream("could not fetch the seasonal campaign", err)
	}
	return s.build(ctx, upstream, submitter)
}

// BuildClub fetches a club campaign by id and builds its envimix counterpart.
func (s *CampaignService) BuildClub(ctx context.Context, clubID, submitter string) (*models.Campaign, error) {
	upstream, err := s.upstream.FetchClubCampaign(ctx, clubID)
	if err != nil {
		return nil, errors.Upstream("could not fetch the club campaign", err)
	}
	return s.build(ctx, upstream, submitter)
}

func (s *CampaignService) build(ctx context.Context, upstream *nadeo.Campaign, submitter string) (*models.Campaign, error) {
	if len(upstream.Maps) == 0 {
		return nil, errors.InvalidInputf("campaign %q has no maps", upstream.Name)
	}
	if existing, err := s.repo.GetCampaign(ctx, upstream.ID); err == nil && existing != nil {
		return nil, errors.Conflict("campaign " + existing.Name + " was already built")
	} else if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Wrap(err, errors.ErrInternal, "campaign lookup failed")
	}

	campaign := models.Campaign{
		ID:        upstream.ID,
		Name:      upstream.Name,
		ClubID:    upstream.ClubID,
		Submitter: submitter,
	}

	var combos []models.Combination
	seen := make(map[string]bool)
	for _, ref := range upstream.Maps {
		built, err := s.buildCombinations(ctx, campaign.ID, ref, seen)
		if err != nil {
			// A partial campaign is worse than no campaign; abort on the
			// first map that cannot be converted.
			return nil, err
		}
		combos = append(combos, built...)
	}
	for i := range combos {
		combos[i].Order = i
	}

	for _, spec := range s.specs {
		if err := s.repo.EnsureCar(ctx, spec.Car); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "could not register car "+spec.Car)
		}
	}
	if err := s.repo.CreateCampaign(ctx, campaign, combos); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "could not store the campaign")
	}
	s.log.Info("Campaign built", "campaign", campaign.ID, "name", campaign.Name, "maps", len(upstream.Maps), "combinations", len(combos))

	if s.announcer != nil {
		if err := s.announcer.Announce(ctx, campaign.ID); err != nil {
			s.log.Error("Campaign announcement failed", "campaign", campaign.ID, "error", err)
		}
		if err := s.announcer.RefreshStatus(ctx, campaign.ID); err != nil {
			s.log.Error("Status refresh failed", "campaign", campaign.ID, "error", err)
		}
	}
	return &campaign, nil
}

// buildCombinations downloads one upstream map and converts it into one
// combination per surviving car variant. The seen map carries name
// deduplication across the whole campaign.
func (s *CampaignService) buildCombinations(ctx context.Context, campaignID string, ref nadeo.MapRef, seen map[string]bool) ([]models.Combination, error) {
	source, err := s.upstream.DownloadMap(ctx, ref.DownloadURL)
	if err != nil {
		return nil, errors.Upstream("could not download "+ref.Name, err)
	}
	variants, err := generator.Generate(source, s.specs, s.cfg.DefaultCar)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, "could not convert "+ref.Name)
	}

	updated := ref.UpdatedAt
	var combos []models.Combination
	for _, v := range variants {
		if seen[v.Name] {
			s.log.Warn("Duplicate variant name skipped", "name", v.Name, "map", ref.UID)
			continue
		}
		seen[v.Name] = true

		payload, err := gbx.Serialize(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "could not serialize "+v.Name)
		}
		combos = append(combos, models.Combination{
			CampaignID:      campaignID,
			CarID:           v.PlayerModel,
			Name:            v.Name,
			OriginalMapUID:  ref.UID,
			OriginalMapName: ref.Name,
			MapUID:          v.UID,
			MapName:         v.Name,
			Payload:         payload,
			UpstreamUpdated: &updated,
		})
	}
	return combos, nil
}

// Fix reconciles a stored campaign against the current upstream playlist:
// duplicate combinations are pruned, missing ones created, and combinations
// whose source map changed upstream are regenerated.
func (s *CampaignService) Fix(ctx context.Context, campaignID string) (*FixResult, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFoundf("campaign %s is not tracked", campaignID)
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "campaign lookup failed")
	}

	var upstream *nadeo.Campaign
	if campaign.ClubID != "" {
		upstream, err = s.upstream.FetchClubCampaign(ctx, campaign.ClubID)
	} else {
		upstream, err = s.upstream.FetchSeasonalCampaign(ctx)
	}
	if err != nil {
		return nil, errors.Upstream("could not fetch the upstream campaign", err)
	}
	if upstream.ID != campaign.ID {
		return nil, errors.Conflictf("upstream now serves %s, not %s", upstream.Name, campaign.Name)
	}

	combos, err := s.repo.ListCombinations(ctx, campaignID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "could not list combinations")
	}

	result := &FixResult{}
	kept, err := s.pruneDuplicates(ctx, combos, result)
	if err != nil {
		return nil, err
	}

	if err := s.reconcileMaps(ctx, campaign, upstream, kept, result); err != nil {
		return nil, err
	}

	s.log.Info("Campaign reconciled", "campaign", campaignID,
		"pruned", result.Pruned, "created", result.Created,
		"rebuilt", result.Rebuilt, "unchanged", result.Unchanged)

	if s.announcer != nil && result.Pruned+result.Created+result.Rebuilt > 0 {
		if err := s.announcer.RefreshStatus(ctx, campaignID); err != nil {
			s.log.Error("Status refresh failed", "campaign", campaignID, "error", err)
		}
	}
	return result, nil
}

// pruneDuplicates removes surplus combinations sharing an (original map, car)
// pair. A validated copy always survives over an unvalidated one; ties keep
// the oldest row.
func (s *CampaignService) pruneDuplicates(ctx context.Context, combos []models.Combination, result *FixResult) ([]models.Combination, error) {
	type key struct {
		originalUID string
		carID       string
	}
	best := make(map[key]int)
	drop := make([]int, 0)
	for i, c := range combos {
		k := key{c.OriginalMapUID, c.CarID}
		prev, ok := best[k]
		if !ok {
			best[k] = i
			continue
		}
		if c.Validated && !combos[prev].Validated {
			drop = append(drop, prev)
			best[k] = i
		} else {
			drop = append(drop, i)
		}
	}
	for _, i := range drop {
		if err := s.repo.DeleteCombination(ctx, combos[i].ID); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "could not prune "+combos[i].Name)
		}
		s.log.Warn("Duplicate combination pruned", "name", combos[i].Name, "id", combos[i].ID)
		result.Pruned++
	}

	kept := make([]models.Combination, 0, len(best))
	for _, c := range combos {
		if i, ok := best[key{c.OriginalMapUID, c.CarID}]; ok && combos[i].ID == c.ID {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// reconcileMaps walks the upstream playlist, creating combinations for maps
// that gained variants and rebuilding those whose source changed upstream.
func (s *CampaignService) reconcileMaps(ctx context.Context, campaign *models.Campaign, upstream *nadeo.Campaign, kept []models.Combination, result *FixResult) error {
	byOriginal := make(map[string][]models.Combination)
	seen := make(map[string]bool)
	order := 0
	for _, c := range kept {
		byOriginal[c.OriginalMapUID] = append(byOriginal[c.OriginalMapUID], c)
		seen[c.Name] = true
		if c.Order >= order {
			order = c.Order + 1
		}
	}

	for _, ref := range upstream.Maps {
		existing := byOriginal[ref.UID]
		stale := false
		for _, c := range existing {
			if c.UpstreamUpdated == nil || ref.UpdatedAt.After(*c.UpstreamUpdated) {
				stale = true
				break
			}
		}
		if len(existing) > 0 && !stale {
			result.Unchanged += len(existing)
			continue
		}

		source, err := s.upstream.DownloadMap(ctx, ref.DownloadURL)
		if err != nil {
			return errors.Upstream("could not download "+ref.Name, err)
		}
		variants, err := generator.Generate(source, s.specs, s.cfg.DefaultCar)
		if err != nil {
			return errors.Wrap(err, errors.ErrValidation, "could not convert "+ref.Name)
		}

		have := make(map[string]models.Combination, len(existing))
		for _, c := range existing {
			have[c.CarID] = c
		}
		updated := ref.UpdatedAt

		var created []models.Combination
		for _, v := range variants {
			payload, err := gbx.Serialize(v)
			if err != nil {
				return errors.Wrap(err, errors.ErrInternal, "could not serialize "+v.Name)
			}

			prev, exists := have[v.PlayerModel]
			if !exists {
				if seen[v.Name] {
					continue
				}
				seen[v.Name] = true
				created = append(created, models.Combination{
					CampaignID:      campaign.ID,
					CarID:           v.PlayerModel,
					Name:            v.Name,
					OriginalMapUID:  ref.UID,
					OriginalMapName: ref.Name,
					MapUID:          v.UID,
					MapName:         v.Name,
					Payload:         payload,
					Order:           order,
					UpstreamUpdated: &updated,
				})
				order++
				result.Created++
				continue
			}

			changed := payloadChanged(prev.Payload, payload)
			s.log.Debug("Upstream map newer than stored variant",
				"name", prev.Name, "structurally_changed", changed)
			rebuilt := prev
			rebuilt.OriginalMapName = ref.Name
			rebuilt.MapUID = v.UID
			rebuilt.MapName = v.Name
			rebuilt.Name = v.Name
			rebuilt.Payload = payload
			rebuilt.UpstreamUpdated = &updated
			if err := s.repo.RebuildCombination(ctx, rebuilt); err != nil {
				return errors.Wrap(err, errors.ErrInternal, "could not rebuild "+prev.Name)
			}
			result.Rebuilt++
		}
		if len(created) > 0 {
			if err := s.repo.CreateCombinations(ctx, created); err != nil {
				return errors.Wrap(err, errors.ErrInternal, "could not create combinations for "+ref.Name)
			}
		}
	}
	return nil
}

// payloadChanged compares two serialized variants structurally, ignoring the
// generated uid and provenance, so a pure re-upload of the same map does not
// read as a change.
func payloadChanged(a, b []byte) bool {
	fa, errA := structuralFingerprint(a)
	fb, errB := structuralFingerprint(b)
	if errA != nil || errB != nil {
		return true
	}
	return fa != fb
}

func structuralFingerprint(payload []byte) (uint64, error) {
	m, err := gbx.Parse(payload)
	if err != nil {
		return 0, err
	}
	h := xxh3.New()
	writeField := func(s string) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeField(m.Name)
	writeField(m.Author)
	writeField(m.PlayerModel)
	writeField(m.Mode)
	for _, b := range m.Blocks {
		writeField(b.Name)
	}
	for _, it := range m.Items {
		writeField(it.Name)
	}
	return h.Sum64(), nil
}
