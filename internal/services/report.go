package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/pkg/chat"
)

// Grid cell markers, one per combination state.
const (
	cellUnclaimed  = "."
	cellClaimed    = "c"
	cellValidated  = "V"
	cellImpossible = "X"
	cellMissing    = " "
)

// Broadcaster pushes rendered status to connected dashboard clients.
// Implemented by the websocket hub.
type Broadcaster interface {
	BroadcastStatus(campaignID, rendered string)
}

// ReportServiceRepository defines the repository methods needed by
// ReportService
type ReportServiceRepository interface {
	repository.CampaignRepository
	repository.CarRepository
	repository.CombinationRepository
}

// ReportService renders campaign status, detects completion and packages
// deliverable archives.
type ReportService struct {
	log         logger.Logger
	repo        ReportServiceRepository
	chat        chat.Client
	cfg         Config
	bundler     *Bundler
	broadcaster Broadcaster

	// completed is in-memory only: a restart forgets which cars already
	// had their dump, so the next transition on an already-complete car
	// can re-fire one. Dumps are idempotent notifications, so a stray
	// duplicate after a restart is acceptable.
	mu        sync.Mutex
	completed map[string]map[string]bool // campaign -> car -> completion seen
	dumping   map[string]bool            // campaigns with a dump in flight
}

// NewReportService creates a new ReportService
func NewReportService(log logger.Logger, repo ReportServiceRepository, chatClient chat.Client, cfg Config) *ReportService {
	return &ReportService{
		log:       log,
		repo:      repo,
		chat:      chatClient,
		cfg:       cfg,
		bundler:   NewBundler(cfg.ArchiveSizeLimit, cfg.DumpSizeLimit),
		completed: make(map[string]map[string]bool),
		dumping:   make(map[string]bool),
	}
}

// SetBroadcaster sets the broadcaster for live dashboard updates
func (s *ReportService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// RenderStatus produces the fixed-width status grid: one row per original
// map, one column per known car, plus the validation tally per claimant.
func (s *ReportService) RenderStatus(ctx context.Context, campaignID string) (string, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", err
	}
	combos, err := s.repo.ListCombinations(ctx, campaignID)
	if err != nil {
		return "", err
	}
	cars, err := s.repo.ListCars(ctx)
	if err != nil {
		return "", err
	}

	// Rows keyed by original map, in Order. ListCombinations is already
	// ordered, so first appearance fixes the row position.
	type row struct {
		name  string
		cells map[string]string
	}
	var rows []*row
	byUID := make(map[string]*row)
	for _, c := range combos {
		r, ok := byUID[c.OriginalMapUID]
		if !ok {
			r = &row{name: c.OriginalMapName, cells: make(map[string]string)}
			byUID[c.OriginalMapUID] = r
			rows = append(rows, r)
		}
		switch {
		case c.Validated:
			r.cells[c.CarID] = cellValidated
		case c.Impossible:
			r.cells[c.CarID] = cellImpossible
		case c.Claimed():
			r.cells[c.CarID] = cellClaimed
		default:
			r.cells[c.CarID] = cellUnclaimed
		}
	}

	nameWidth := len(campaign.Name)
	for _, r := range rows {
		if len(r.name) > nameWidth {
			nameWidth = len(r.name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-*s", nameWidth, campaign.Name)
	for _, car := range cars {
		fmt.Fprintf(&sb, "  %s", carLabel(car.ID))
	}
	sb.WriteString("\n")

	for _, r := range rows {
		fmt.Fprintf(&sb, "%-*s", nameWidth, r.name)
		for _, car := range cars {
			cell, ok := r.cells[car.ID]
			if !ok {
				cell = cellMissing
			}
			width := len(carLabel(car.ID))
			fmt.Fprintf(&sb, "  %-*s", width, cell)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n. unclaimed  c claimed  V validated  X impossible\n")

	counts, err := s.repo.CountValidationsByClaimant(ctx, campaignID)
	if err != nil {
		return "", err
	}
	if len(counts) > 0 {
		sb.WriteString("\nValidations:\n")
		for _, c := range counts {
			fmt.Fprintf(&sb, "  <%s>  %d\n", c.ClaimantID, c.Count)
		}
	}

	return sb.String(), nil
}

// RefreshStatus re-renders the grid and replaces the posted status message,
// posting fresh and recording the tracking ids the first time.
func (s *ReportService) RefreshStatus(ctx context.Context, campaignID string) error {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	rendered, err := s.RenderStatus(ctx, campaignID)
	if err != nil {
		return err
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastStatus(campaignID, rendered)
	}

	msg := chat.Message{Content: "```\n" + rendered + "```"}
	if campaign.StatusChannelID != "" && campaign.StatusMessageID != "" {
		ref := chat.Ref{ChannelID: campaign.StatusChannelID, MessageID: campaign.StatusMessageID}
		return s.chat.Edit(ctx, ref, msg)
	}

	if s.cfg.StatusChannelID == "" {
		return nil // no status channel configured, dashboard only
	}
	ref, err := s.chat.Send(ctx, s.cfg.StatusChannelID, msg)
	if err != nil {
		return err
	}
	return s.repo.SetCampaignStatusRef(ctx, campaignID, ref.ChannelID, ref.MessageID)
}

// Announce posts (or re-edits) the campaign news message. Fresh posts carry
// a QR code to the campaign page so phones can grab it straight away.
func (s *ReportService) Announce(ctx context.Context, campaignID string) error {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	combos, err := s.repo.ListCombinations(ctx, campaignID)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Envimix season is open: **%s** with %d combinations. Claim a map, drive it, submit your proof.",
		campaign.Name, len(combos))

	if campaign.NewsChannelID != "" && campaign.NewsMessageID != "" {
		ref := chat.Ref{ChannelID: campaign.NewsChannelID, MessageID: campaign.NewsMessageID}
		return s.chat.Edit(ctx, ref, chat.Message{Content: content})
	}

	if s.cfg.NewsChannelID == "" {
		return nil
	}

	msg := chat.Message{Content: content}
	if s.cfg.CampaignBaseURL != "" {
		pageURL := fmt.Sprintf("%s/campaigns/%s", strings.TrimRight(s.cfg.CampaignBaseURL, "/"), campaignID)
		if png, err := qrcode.Encode(pageURL, qrcode.Medium, 256); err == nil {
			msg.Files = append(msg.Files, chat.File{Name: "campaign.png", Data: png})
		} else {
			s.log.Warn("QR generation failed", "error", err)
		}
	}

	ref, err := s.chat.Send(ctx, s.cfg.NewsChannelID, msg)
	if err != nil {
		return err
	}
	return s.repo.SetCampaignNewsRef(ctx, campaignID, ref.ChannelID, ref.MessageID)
}

// CheckCompletion evaluates per-car and campaign completion and fires the
// full-campaign dump when a car newly completes.
func (s *ReportService) CheckCompletion(ctx context.Context, campaignID string) error {
	combos, err := s.repo.ListCombinations(ctx, campaignID)
	if err != nil {
		return err
	}

	open := make(map[string]int) // car -> combinations neither validated nor impossible
	carsSeen := make(map[string]bool)
	campaignDone := len(combos) > 0
	for _, c := range combos {
		carsSeen[c.CarID] = true
		if !c.Validated && !c.Impossible {
			open[c.CarID]++
			campaignDone = false
		}
	}

	var newlyDone []string
	s.mu.Lock()
	if s.completed[campaignID] == nil {
		s.completed[campaignID] = make(map[string]bool)
	}
	for car := range carsSeen {
		done := open[car] == 0
		if done && !s.completed[campaignID][car] {
			newlyDone = append(newlyDone, car)
		}
		s.completed[campaignID][car] = done
	}
	s.mu.Unlock()

	if len(newlyDone) == 0 {
		return nil
	}
	sort.Strings(newlyDone)

	s.log.Info("Cars completed", "campaign", campaignID, "cars", strings.Join(newlyDone, ","), "campaign_done", campaignDone)
	return s.Dump(ctx, campaignID)
}

// Dump builds the campaign's archives and distributes them to the
// completion channel. Never runs twice concurrently for one campaign.
func (s *ReportService) Dump(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	if s.dumping[campaignID] {
		s.mu.Unlock()
		s.log.Warn("Dump already running", "campaign", campaignID)
		return nil
	}
	s.dumping[campaignID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.dumping, campaignID)
		s.mu.Unlock()
	}()

	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	combos, err := s.repo.ListCombinations(ctx, campaignID)
	if err != nil {
		return err
	}

	archives, err := s.bundler.BuildArchives(combos)
	if err == ErrBundleTooLarge {
		s.log.Warn("Dump skipped, payload too large", "campaign", campaignID)
		if s.cfg.CompletionChannelID != "" {
			_, err := s.chat.Send(ctx, s.cfg.CompletionChannelID, chat.Message{
				Content: fmt.Sprintf("**%s**: archives exceed the attachment limit, grab maps individually.", campaign.Name),
			})
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}

	if s.cfg.CompletionChannelID == "" {
		return nil
	}

	// One message per archive keeps each post under the attachment cap.
	for _, a := range archives {
		msg := chat.Message{
			Content: fmt.Sprintf("**%s** remaining maps: %s", campaign.Name, a.Name),
			Files:   []chat.File{{Name: a.Name, Data: a.Data}},
		}
		if _, err := s.chat.Send(ctx, s.cfg.CompletionChannelID, msg); err != nil {
			return err
		}
	}
	return nil
}

// carLabel strips the Car prefix for compact column headers.
func carLabel(carID string) string {
	return strings.TrimPrefix(carID, "Car")
}

// Ensure the report service satisfies the claim engine's reporter contract.
var _ Reporter = (*ReportService)(nil)
