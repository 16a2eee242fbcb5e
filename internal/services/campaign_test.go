package services_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	enverrors "github.com/tmxbot/envimix/internal/errors"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/internal/services"
	"github.com/tmxbot/envimix/internal/testutil"
	"github.com/tmxbot/envimix/pkg/gbx"
	"github.com/tmxbot/envimix/pkg/nadeo"
)

// sourceMap builds an upstream seasonal map. The neutral player model keeps
// every car variant, so one source yields four combinations.
func sourceMap(uid, name string) *gbx.MapObject {
	return &gbx.MapObject{
		UID:         uid,
		Name:        name,
		Author:      "nadeo",
		PlayerModel: "CharacterPilot",
		Mode:        "Race",
		AuthorTime:  31000,
		GoldTime:    33000,
		SilverTime:  38000,
		BronzeTime:  45000,
		Blocks:      []gbx.Block{{Name: "RoadTechStraight"}, {Name: "RoadTechCurve"}},
		Items:       []gbx.Item{{Name: "Tree"}},
	}
}

func upstreamCampaign(t *testing.T, opts *[]nadeo.MockOption, id, name string, updated time.Time, maps ...*gbx.MapObject) *nadeo.Campaign {
	t.Helper()
	c := &nadeo.Campaign{ID: id, Name: name}
	for _, m := range maps {
		url := "https://dl.example.com/" + m.UID
		data, err := gbx.Serialize(m)
		if err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
		*opts = append(*opts, nadeo.WithFile(url, data))
		c.Maps = append(c.Maps, nadeo.MapRef{UID: m.UID, Name: m.Name, UpdatedAt: updated, DownloadURL: url})
	}
	return c
}

func kindOf(t *testing.T, err error) enverrors.Kind {
	t.Helper()
	var e *enverrors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected a kinded error, got %v", err)
	}
	return e.Kind
}

func TestBuildSeasonal_CreatesAllVariants(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	updated := time.Date(2026, 7, 1, 17, 0, 0, 0, time.UTC)
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", updated,
		sourceMap("u1", "Alpha"), sourceMap("u2", "Beta"))
	opts = append(opts, nadeo.WithCampaign(season))
	upstream := nadeo.NewMockClient(opts...)

	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())
	campaign, err := svc.BuildSeasonal(ctx, "alice")
	if err != nil {
		t.Fatalf("BuildSeasonal failed: %v", err)
	}
	if campaign.ID != "season-1" || campaign.Name != "Summer 2026" {
		t.Errorf("unexpected campaign %+v", campaign)
	}

	combos, err := repo.ListCombinations(ctx, "season-1")
	if err != nil {
		t.Fatalf("ListCombinations failed: %v", err)
	}
	if len(combos) != 8 {
		t.Fatalf("expected 2 maps x 4 cars = 8 combinations, got %d", len(combos))
	}
	// Orders are contiguous and the names follow the "<map> - <car>" scheme
	for i, c := range combos {
		if c.Order != i {
			t.Errorf("combination %d has order %d", i, c.Order)
		}
		want := fmt.Sprintf("%s - %s", c.OriginalMapName, c.CarID)
		if c.Name != want {
			t.Errorf("combination name %q, want %q", c.Name, want)
		}
		if len(c.Payload) == 0 {
			t.Errorf("combination %q has no payload", c.Name)
		}
		if c.UpstreamUpdated == nil || !c.UpstreamUpdated.Equal(updated) {
			t.Errorf("combination %q missing upstream timestamp", c.Name)
		}
	}
	if combos[0].Name != "Alpha - CarSport" {
		t.Errorf("expected car order preserved, first combo is %q", combos[0].Name)
	}

	// Every payload is a parseable variant carrying its provenance
	m, err := gbx.Parse(combos[0].Payload)
	if err != nil {
		t.Fatalf("stored payload does not parse: %v", err)
	}
	if m.Meta[gbx.MetaOriginalUID] != "u1" || m.Meta[gbx.MetaConverted] != "true" {
		t.Errorf("provenance missing: %v", m.Meta)
	}
	if m.AuthorTime != -1 {
		t.Errorf("medal times must be unset, got %d", m.AuthorTime)
	}

	cars, err := repo.ListCars(ctx)
	if err != nil {
		t.Fatalf("ListCars failed: %v", err)
	}
	if len(cars) != 4 {
		t.Errorf("expected all 4 cars registered, got %d", len(cars))
	}
}

func TestBuildSeasonal_RejectsRebuild(t *testing.T) {
	repo := testutil.NewTestRepository(t)

	var opts []nadeo.MockOption
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", time.Now(), sourceMap("u1", "Alpha"))
	opts = append(opts, nadeo.WithCampaign(season))
	upstream := nadeo.NewMockClient(opts...)

	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())
	if _, err := svc.BuildSeasonal(context.Background(), "alice"); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	_, err := svc.BuildSeasonal(context.Background(), "bob")
	if err == nil {
		t.Fatal("expected the second build to be rejected")
	}
	if kindOf(t, err) != enverrors.ErrConflict {
		t.Errorf("expected a conflict, got %v", err)
	}
}

func TestBuildSeasonal_DownloadFailureAbortsWholeBuild(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", time.Now(), sourceMap("u1", "Alpha"))
	// Second map has no file registered, so its download fails
	season.Maps = append(season.Maps, nadeo.MapRef{UID: "u2", Name: "Beta", DownloadURL: "https://dl.example.com/u2"})
	opts = append(opts, nadeo.WithCampaign(season))
	upstream := nadeo.NewMockClient(opts...)

	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())
	_, err := svc.BuildSeasonal(ctx, "alice")
	if err == nil {
		t.Fatal("expected the build to fail")
	}
	if kindOf(t, err) != enverrors.ErrUpstream {
		t.Errorf("expected an upstream error, got %v", err)
	}

	// Nothing is committed on a partial build
	if _, err := repo.GetCampaign(ctx, "season-1"); !stderrors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected no stored campaign, got %v", err)
	}
}

func TestBuildSeasonal_RejectsEmptyPlaylist(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	upstream := nadeo.NewMockClient(nadeo.WithCampaign(&nadeo.Campaign{ID: "season-1", Name: "Empty"}))

	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())
	_, err := svc.BuildSeasonal(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected the empty playlist to be rejected")
	}
	if kindOf(t, err) != enverrors.ErrInvalidInput {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestBuildClub_StoresClubID(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	club := upstreamCampaign(t, &opts, "club-9", "Club Nights", time.Now(), sourceMap("u1", "Alpha"))
	club.ClubID = "9"
	opts = append(opts, nadeo.WithClubCampaign("9", club))
	upstream := nadeo.NewMockClient(opts...)

	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())
	campaign, err := svc.BuildClub(ctx, "9", "alice")
	if err != nil {
		t.Fatalf("BuildClub failed: %v", err)
	}
	stored, err := repo.GetCampaign(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign failed: %v", err)
	}
	if stored.ClubID != "9" || stored.Submitter != "alice" {
		t.Errorf("unexpected stored campaign %+v", stored)
	}
}

func TestFix_UnknownCampaign(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	svc := services.NewCampaignService(logger.New(), repo, nadeo.NewMockClient(), services.DefaultConfig())

	_, err := svc.Fix(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected an error")
	}
	if kindOf(t, err) != enverrors.ErrNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestFix_UpstreamRotatedAway(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", time.Now(), sourceMap("u1", "Alpha"))
	opts = append(opts, nadeo.WithCampaign(season))
	svc := services.NewCampaignService(logger.New(), repo, nadeo.NewMockClient(opts...), services.DefaultConfig())
	if _, err := svc.BuildSeasonal(ctx, "alice"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// Upstream now serves the next season
	rotated := nadeo.NewMockClient(nadeo.WithCampaign(&nadeo.Campaign{
		ID: "season-2", Name: "Fall 2026",
		Maps: []nadeo.MapRef{{UID: "x", Name: "X"}},
	}))
	svc2 := services.NewCampaignService(logger.New(), repo, rotated, services.DefaultConfig())

	_, err := svc2.Fix(ctx, "season-1")
	if err == nil {
		t.Fatal("expected a conflict")
	}
	if kindOf(t, err) != enverrors.ErrConflict {
		t.Errorf("expected a conflict, got %v", err)
	}
}

func TestFix_NoUpstreamChangeIsANoOp(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	updated := time.Date(2026, 7, 1, 17, 0, 0, 0, time.UTC)
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", updated, sourceMap("u1", "Alpha"))
	opts = append(opts, nadeo.WithCampaign(season))
	upstream := nadeo.NewMockClient(opts...)

	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())
	if _, err := svc.BuildSeasonal(ctx, "alice"); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	downloadsAfterBuild := len(upstream.DownloadCalls)

	result, err := svc.Fix(ctx, "season-1")
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if result.Pruned != 0 || result.Created != 0 || result.Rebuilt != 0 {
		t.Errorf("expected a clean pass, got %+v", result)
	}
	if result.Unchanged != 4 {
		t.Errorf("expected 4 unchanged combinations, got %d", result.Unchanged)
	}
	if len(upstream.DownloadCalls) != downloadsAfterBuild {
		t.Error("an unchanged map must not be re-downloaded")
	}
}

func TestFix_PrunesDuplicatesKeepingValidated(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	updated := time.Date(2026, 7, 1, 17, 0, 0, 0, time.UTC)
	campaign := models.Campaign{ID: "season-1", Name: "Summer 2026"}
	combos := []models.Combination{
		{CampaignID: "season-1", CarID: "CarSnow", Name: "Alpha - CarSnow", OriginalMapUID: "u1", OriginalMapName: "Alpha", MapUID: "m1", MapName: "Alpha - CarSnow", Payload: []byte("p1"), Order: 0, UpstreamUpdated: &updated},
		{CampaignID: "season-1", CarID: "CarSnow", Name: "Alpha - CarSnow (2)", OriginalMapUID: "u1", OriginalMapName: "Alpha", MapUID: "m2", MapName: "Alpha - CarSnow (2)", Payload: []byte("p2"), Order: 1, UpstreamUpdated: &updated},
	}
	if err := repo.CreateCampaign(ctx, campaign, combos); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	stored, _ := repo.ListCombinations(ctx, "season-1")
	// The later row is the validated one, so pruning must keep it
	if err := repo.ApplyValidations(ctx, []repository.ValidationUpdate{
		{CombinationID: stored[1].ID, ClaimantID: "alice", Payload: []byte("p2"), At: time.Now()},
	}); err != nil {
		t.Fatalf("ApplyValidations failed: %v", err)
	}

	upstream := nadeo.NewMockClient(nadeo.WithCampaign(&nadeo.Campaign{
		ID: "season-1", Name: "Summer 2026",
		Maps: []nadeo.MapRef{{UID: "u1", Name: "Alpha", UpdatedAt: updated, DownloadURL: "https://dl.example.com/u1"}},
	}))
	svc := services.NewCampaignService(logger.New(), repo, upstream, services.DefaultConfig())

	result, err := svc.Fix(ctx, "season-1")
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if result.Pruned != 1 {
		t.Fatalf("expected 1 pruned duplicate, got %+v", result)
	}

	remaining, _ := repo.ListCombinations(ctx, "season-1")
	if len(remaining) != 1 {
		t.Fatalf("expected 1 surviving combination, got %d", len(remaining))
	}
	if !remaining[0].Validated || remaining[0].MapUID != "m2" {
		t.Errorf("the validated copy must survive, got %+v", remaining[0])
	}
}

func TestFix_RebuildsWhenUpstreamMapIsNewer(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	built := time.Date(2026, 7, 1, 17, 0, 0, 0, time.UTC)
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", built, sourceMap("u1", "Alpha"))
	opts = append(opts, nadeo.WithCampaign(season))
	svc := services.NewCampaignService(logger.New(), repo, nadeo.NewMockClient(opts...), services.DefaultConfig())
	if _, err := svc.BuildSeasonal(ctx, "alice"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	stored, _ := repo.ListCombinations(ctx, "season-1")
	repo.EnsureClaimant(ctx, "bob")
	if _, err := repo.ClaimCombination(ctx, stored[0].ID, "bob", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Upstream republished the map with a changed layout
	var fixOpts []nadeo.MockOption
	newer := sourceMap("u1", "Alpha")
	newer.Blocks = append(newer.Blocks, gbx.Block{Name: "RoadTechChicane"})
	fixed := upstreamCampaign(t, &fixOpts, "season-1", "Summer 2026", built.Add(48*time.Hour), newer)
	fixOpts = append(fixOpts, nadeo.WithCampaign(fixed))
	svc2 := services.NewCampaignService(logger.New(), repo, nadeo.NewMockClient(fixOpts...), services.DefaultConfig())

	result, err := svc2.Fix(ctx, "season-1")
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if result.Rebuilt != 4 {
		t.Fatalf("expected all 4 variants rebuilt, got %+v", result)
	}

	after, _ := repo.ListCombinations(ctx, "season-1")
	for _, c := range after {
		if c.Claimed() {
			t.Errorf("rebuild must reset the claim on %q", c.Name)
		}
		m, err := gbx.Parse(c.Payload)
		if err != nil {
			t.Fatalf("rebuilt payload does not parse: %v", err)
		}
		if len(m.Blocks) != 3 {
			t.Errorf("rebuilt payload still has the old layout for %q", c.Name)
		}
		if c.UpstreamUpdated == nil || !c.UpstreamUpdated.After(built) {
			t.Errorf("upstream timestamp not advanced on %q", c.Name)
		}
	}
}

func TestFix_CreatesCombinationsForNewMaps(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	var opts []nadeo.MockOption
	updated := time.Date(2026, 7, 1, 17, 0, 0, 0, time.UTC)
	season := upstreamCampaign(t, &opts, "season-1", "Summer 2026", updated, sourceMap("u1", "Alpha"))
	opts = append(opts, nadeo.WithCampaign(season))
	svc := services.NewCampaignService(logger.New(), repo, nadeo.NewMockClient(opts...), services.DefaultConfig())
	if _, err := svc.BuildSeasonal(ctx, "alice"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// Upstream grew a second map
	var fixOpts []nadeo.MockOption
	grown := upstreamCampaign(t, &fixOpts, "season-1", "Summer 2026", updated,
		sourceMap("u1", "Alpha"), sourceMap("u2", "Beta"))
	fixOpts = append(fixOpts, nadeo.WithCampaign(grown))
	svc2 := services.NewCampaignService(logger.New(), repo, nadeo.NewMockClient(fixOpts...), services.DefaultConfig())

	result, err := svc2.Fix(ctx, "season-1")
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if result.Created != 4 {
		t.Fatalf("expected 4 new combinations, got %+v", result)
	}
	if result.Unchanged != 4 {
		t.Errorf("the existing map should be untouched, got %+v", result)
	}

	combos, _ := repo.ListCombinations(ctx, "season-1")
	if len(combos) != 8 {
		t.Fatalf("expected 8 combinations after the fix, got %d", len(combos))
	}
	// New combinations slot in after the existing order range
	var betaOrders []int
	for _, c := range combos {
		if c.OriginalMapUID == "u2" {
			betaOrders = append(betaOrders, c.Order)
		}
	}
	if len(betaOrders) != 4 || betaOrders[0] != 4 {
		t.Errorf("unexpected orders for the new map: %v", betaOrders)
	}
}
