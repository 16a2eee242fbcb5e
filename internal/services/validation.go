package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tmxbot/envimix/internal/errors"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/pkg/gbx"
)

// Submission is one uploaded proof file (or bundle of them).
type Submission struct {
	Filename string
	Data     []byte
}

// BatchResult partitions a submission batch into accepted combinations and
// human-readable rejection reasons. Entries are processed independently;
// one bad file never aborts the batch.
type BatchResult struct {
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationServiceRepository defines the repository methods needed by
// ValidationService
type ValidationServiceRepository interface {
	repository.CombinationRepository
	repository.ClaimantRepository
}

// ValidationService ingests submitted proof files, matches them to
// combinations and commits accepted validations in bulk.
type ValidationService struct {
	log      logger.Logger
	repo     ValidationServiceRepository
	cfg      Config
	reporter Reporter
	now      func() time.Time
}

// NewValidationService creates a new ValidationService
func NewValidationService(log logger.Logger, repo ValidationServiceRepository, cfg Config) *ValidationService {
	return &ValidationService{log: log, repo: repo, cfg: cfg, now: time.Now}
}

// SetReporter sets the reporter notified after commits
func (s *ValidationService) SetReporter(r Reporter) {
	s.reporter = r
}

// pendingUpdate is one accepted entry awaiting the batch commit.
type pendingUpdate struct {
	update     repository.ValidationUpdate
	campaignID string
	name       string
	note       string
}

// Validate processes one submitted file or bundle. The returned error is
// reserved for infrastructure failures; every per-entry problem lands in
// BatchResult.Rejected instead.
func (s *ValidationService) Validate(ctx context.Context, actor string, sub Submission) (*BatchResult, error) {
	entries, err := s.unpack(sub)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	seen := make(map[string]bool)    // original-uid/car pairs in this batch
	campaigns := make(map[string]bool)
	var updates []repository.ValidationUpdate

	for _, entry := range entries {
		pending, warning, reject := s.check(ctx, actor, entry, seen)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		if reject != "" {
			result.Rejected = append(result.Rejected, reject)
			continue
		}
		label := pending.name
		if pending.note != "" {
			label += " (" + pending.note + ")"
		}
		result.Accepted = append(result.Accepted, label)
		updates = append(updates, pending.update)
		campaigns[pending.campaignID] = true
	}

	// One commit per batch, and only when something was accepted.
	if len(updates) > 0 {
		if err := s.repo.ApplyValidations(ctx, updates); err != nil {
			return nil, err
		}
		s.log.Info("Validation batch committed", "accepted", len(updates), "rejected", len(result.Rejected))
		for campaignID := range campaigns {
			s.notify(ctx, campaignID)
		}
	}

	return result, nil
}

// unpack expands a bundle into its entries, or wraps a single file.
// A top-level file that is neither a bundle nor a native map is a hard
// failure.
func (s *ValidationService) unpack(sub Submission) ([]Submission, error) {
	if int64(len(sub.Data)) > s.cfg.MaxFileSize {
		return nil, errors.InvalidInputf("%s exceeds the %d byte limit", sub.Filename, s.cfg.MaxFileSize)
	}

	if !isZip(sub.Data) {
		// A lone file must be a native map; only bundle members get the
		// per-entry skip treatment.
		if _, err := gbx.Parse(sub.Data); err != nil {
			return nil, errors.InvalidInputf("%s is neither a map nor a bundle", sub.Filename)
		}
		return []Submission{sub}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(sub.Data), int64(len(sub.Data)))
	if err != nil {
		return nil, errors.InvalidInput("could not read the archive")
	}
	if len(zr.File) > s.cfg.MaxBatchFiles {
		return nil, errors.InvalidInputf("bundle holds %d files, limit is %d", len(zr.File), s.cfg.MaxBatchFiles)
	}

	var entries []Submission
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if int64(f.UncompressedSize64) > s.cfg.MaxFileSize {
			entries = append(entries, Submission{Filename: f.Name}) // rejected later by size
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidInput, "could not read the archive")
		}
		data, err := io.ReadAll(io.LimitReader(rc, s.cfg.MaxFileSize+1))
		rc.Close()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidInput, "could not read the archive")
		}
		entries = append(entries, Submission{Filename: f.Name, Data: data})
	}
	return entries, nil
}

// check runs the acceptance checks for one entry.
func (s *ValidationService) check(ctx context.Context, actor string, entry Submission, seen map[string]bool) (*pendingUpdate, string, string) {
	if int64(len(entry.Data)) > s.cfg.MaxFileSize || len(entry.Data) == 0 {
		return nil, "", fmt.Sprintf("%s: exceeds the size limit", entry.Filename)
	}

	m, err := gbx.Parse(entry.Data)
	if err != nil {
		return nil, "", fmt.Sprintf("%s: not a recognized map", entry.Filename)
	}

	originalUID := m.Meta[gbx.MetaOriginalUID]
	car := m.Meta[gbx.MetaCar]
	if originalUID == "" || car == "" {
		return nil, "", fmt.Sprintf("%s: missing conversion metadata - submit the converted map, not the original", entry.Filename)
	}

	key := originalUID + "/" + car
	if seen[key] {
		return nil, "", fmt.Sprintf("%s: duplicate of another file in this batch", entry.Filename)
	}
	seen[key] = true

	combo, err := s.repo.GetCombinationByOriginal(ctx, originalUID, car)
	if err == repository.ErrNotFound {
		return nil, "", fmt.Sprintf("%s: no combination matches this map and car", entry.Filename)
	}
	if err != nil {
		return nil, "", fmt.Sprintf("%s: lookup failed", entry.Filename)
	}

	// Ownership: unclaimed auto-claims for the submitter; a foreign claim
	// blocks unless the combination is impossible (open to anyone).
	claimant := actor
	if combo.Claimed() && combo.ClaimantID != actor && !combo.Impossible {
		return nil, "", fmt.Sprintf("%s: claimed by <%s> - claim it first", combo.Name, combo.ClaimantID)
	}

	ref, err := gbx.Parse(combo.Payload)
	if err != nil {
		return nil, "", fmt.Sprintf("%s: stored reference is unreadable", combo.Name)
	}

	if combo.Validated {
		// Only a strictly faster author time gets through, as an
		// improvement; everything else is already done.
		if m.AuthorTime != m.UnsetTime() && ref.AuthorTime != ref.UnsetTime() && m.AuthorTime < ref.AuthorTime {
			return &pendingUpdate{
				update: repository.ValidationUpdate{
					CombinationID: combo.ID,
					ClaimantID:    combo.ClaimantID,
					Payload:       entry.Data,
					At:            s.now(),
				},
				campaignID: combo.CampaignID,
				name:       combo.Name,
				note:       fmt.Sprintf("improved to %d ms", m.AuthorTime),
			}, "", ""
		}
		return nil, "", fmt.Sprintf("%s: already validated", combo.Name)
	}

	unset := m.UnsetTime()
	for _, tm := range m.Times() {
		if tm == unset {
			return nil, "", fmt.Sprintf("%s: set all four medal times before submitting", combo.Name)
		}
	}

	if len(m.Blocks) != len(ref.Blocks) {
		return nil, "", fmt.Sprintf("%s: block count differs from the reference (%d vs %d)", combo.Name, len(m.Blocks), len(ref.Blocks))
	}
	if len(m.Items) != len(ref.Items) {
		return nil, "", fmt.Sprintf("%s: item count differs from the reference (%d vs %d)", combo.Name, len(m.Items), len(ref.Items))
	}

	if ref.PlayerModel != car {
		return nil, "", fmt.Sprintf("%s: reference car mismatch, contact the admin", combo.Name)
	}
	// An empty player model means the game default; accept it only when
	// the claimed car is the default.
	subModel := m.PlayerModel
	if subModel == "" {
		subModel = s.cfg.DefaultCar
	}
	if subModel != ref.PlayerModel {
		return nil, "", fmt.Sprintf("%s: driven with %s, expected %s", combo.Name, subModel, ref.PlayerModel)
	}

	var warning string
	if len(m.Lightmap) == 0 {
		warning = fmt.Sprintf("%s: no computed lighting - the map will look flat", combo.Name)
	}

	return &pendingUpdate{
		update: repository.ValidationUpdate{
			CombinationID: combo.ID,
			ClaimantID:    claimant,
			Payload:       entry.Data,
			At:            s.now(),
		},
		campaignID: combo.CampaignID,
		name:       combo.Name,
	}, warning, ""
}

func (s *ValidationService) notify(ctx context.Context, campaignID string) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.RefreshStatus(ctx, campaignID); err != nil {
		s.log.Warn("Status refresh failed", "campaign", campaignID, "error", err)
	}
	if err := s.reporter.CheckCompletion(ctx, campaignID); err != nil {
		s.log.Warn("Completion check failed", "campaign", campaignID, "error", err)
	}
}

// isZip sniffs the local-file-header magic of a bundle.
func isZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 3 && data[3] == 4
}
