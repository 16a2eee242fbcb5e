package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tmxbot/envimix/internal/auth"
	"github.com/tmxbot/envimix/internal/errors"
	"github.com/tmxbot/envimix/internal/handlers"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/internal/services"
	"github.com/tmxbot/envimix/internal/websocket"
)

// stubClaims returns a canned result for every claim-engine entry point and
// records what it was asked.
type stubClaims struct {
	result *services.Result
	err    error

	actor string
	name  string
}

func (s *stubClaims) record(actor, name string) (*services.Result, error) {
	s.actor, s.name = actor, name
	return s.result, s.err
}

func (s *stubClaims) Claim(ctx context.Context, actor, name string) (*services.Result, error) {
	return s.record(actor, name)
}

func (s *stubClaims) Unclaim(ctx context.Context, actor, name string) (*services.Result, error) {
	return s.record(actor, name)
}

func (s *stubClaims) MarkImpossible(ctx context.Context, actor, name string) (*services.Result, error) {
	return s.record(actor, name)
}

func (s *stubClaims) Invalidate(ctx context.Context, actor, name string) (*services.Result, error) {
	return s.record(actor, name)
}

func (s *stubClaims) SetReporter(r services.Reporter) {}

type stubValidation struct {
	result *services.BatchResult
	err    error
	actor  string
	sub    services.Submission
}

func (s *stubValidation) Validate(ctx context.Context, actor string, sub services.Submission) (*services.BatchResult, error) {
	s.actor, s.sub = actor, sub
	return s.result, s.err
}

func (s *stubValidation) SetReporter(r services.Reporter) {}

type stubCampaigns struct {
	campaign *models.Campaign
	fix      *services.FixResult
	err      error

	builtClub string
	seasonal  bool
}

func (s *stubCampaigns) BuildSeasonal(ctx context.Context, submitter string) (*models.Campaign, error) {
	s.seasonal = true
	return s.campaign, s.err
}

func (s *stubCampaigns) BuildClub(ctx context.Context, clubID, submitter string) (*models.Campaign, error) {
	s.builtClub = clubID
	return s.campaign, s.err
}

func (s *stubCampaigns) Fix(ctx context.Context, campaignID string) (*services.FixResult, error) {
	return s.fix, s.err
}

func (s *stubCampaigns) SetAnnouncer(a services.Announcer) {}

type stubReports struct {
	rendered string
	err      error
	dumped   []string
}

func (s *stubReports) RenderStatus(ctx context.Context, campaignID string) (string, error) {
	return s.rendered, s.err
}

func (s *stubReports) RefreshStatus(ctx context.Context, campaignID string) error { return s.err }

func (s *stubReports) Announce(ctx context.Context, campaignID string) error { return s.err }

func (s *stubReports) CheckCompletion(ctx context.Context, campaignID string) error { return s.err }

func (s *stubReports) Dump(ctx context.Context, campaignID string) error {
	s.dumped = append(s.dumped, campaignID)
	return s.err
}

func (s *stubReports) SetBroadcaster(b services.Broadcaster) {}

type stubMaps struct {
	combos map[string]*models.Combination
}

func (s *stubMaps) GetCombinationByName(ctx context.Context, name string) (*models.Combination, error) {
	c, ok := s.combos[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type stubLister struct {
	campaigns []models.Campaign
}

func (s *stubLister) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	return s.campaigns, nil
}

type fixture struct {
	claims     *stubClaims
	validation *stubValidation
	campaigns  *stubCampaigns
	reports    *stubReports
	maps       *stubMaps
	router     http.Handler
}

const adminToken = "test-admin-token"

func setupHandlers(t *testing.T) *fixture {
	t.Helper()
	log := logger.New()
	f := &fixture{
		claims:     &stubClaims{result: &services.Result{Code: services.ResultOK, Message: "claimed"}},
		validation: &stubValidation{result: &services.BatchResult{}},
		campaigns:  &stubCampaigns{campaign: &models.Campaign{ID: "season-1", Name: "Summer"}},
		reports:    &stubReports{rendered: "grid"},
		maps:       &stubMaps{combos: make(map[string]*models.Combination)},
	}
	h := handlers.New(f.claims, f.validation, f.campaigns, f.reports, f.maps,
		&stubLister{}, auth.New(adminToken), websocket.New(log), log)
	f.router = h.Router()
	return f
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestHandleClaim_DeliversFileURL(t *testing.T) {
	f := setupHandlers(t)
	f.claims.result = &services.Result{Code: services.ResultOK, Message: "claimed", Payload: []byte("map")}

	w := doJSON(t, f.router, http.MethodPost, "/api/claim",
		map[string]string{"user": "alice", "name": "Alpha - CarSnow"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handlers.ClaimResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Result != "ok" {
		t.Errorf("result %q", resp.Result)
	}
	if resp.FileURL != "/api/map/Alpha%20-%20CarSnow" {
		t.Errorf("unexpected file url %q", resp.FileURL)
	}
	if f.claims.actor != "alice" || f.claims.name != "Alpha - CarSnow" {
		t.Errorf("service saw %q/%q", f.claims.actor, f.claims.name)
	}
}

func TestHandleClaim_ResultStatusMapping(t *testing.T) {
	tests := []struct {
		code   services.ResultCode
		status int
		result string
	}{
		{services.ResultOK, http.StatusOK, "ok"},
		{services.ResultAlreadyYours, http.StatusOK, "already_yours"},
		{services.ResultImpossibleDelivery, http.StatusOK, "impossible"},
		{services.ResultNotFound, http.StatusNotFound, "not_found"},
		{services.ResultAlreadyClaimed, http.StatusConflict, "already_claimed"},
		{services.ResultCooldown, http.StatusConflict, "cooldown"},
		{services.ResultNotAuthorized, http.StatusForbidden, "not_authorized"},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			f := setupHandlers(t)
			f.claims.result = &services.Result{Code: tt.code}
			w := doJSON(t, f.router, http.MethodPost, "/api/claim",
				map[string]string{"user": "alice", "name": "x"}, nil)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			var resp handlers.ClaimResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Result != tt.result {
				t.Errorf("expected result %q, got %q", tt.result, resp.Result)
			}
		})
	}
}

func TestHandleClaim_CooldownCarriesDeadline(t *testing.T) {
	f := setupHandlers(t)
	deadline := time.Date(2026, 7, 1, 19, 0, 0, 0, time.UTC)
	f.claims.result = &services.Result{Code: services.ResultCooldown, Message: "wait", Deadline: deadline}

	w := doJSON(t, f.router, http.MethodPost, "/api/unclaim",
		map[string]string{"user": "alice", "name": "x"}, nil)

	var resp handlers.ClaimResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Deadline == nil || !resp.Deadline.Equal(deadline) {
		t.Errorf("expected deadline %v, got %v", deadline, resp.Deadline)
	}
}

func TestHandleClaim_MissingFields(t *testing.T) {
	f := setupHandlers(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/claim", map[string]string{"name": "x"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user: expected 400, got %d", w.Code)
	}

	w = doJSON(t, f.router, http.MethodPost, "/api/claim", map[string]string{"user": "alice"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", w.Code)
	}

	w = doJSON(t, f.router, http.MethodPost, "/api/claim", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", w.Code)
	}
}

func TestHandleClaim_ActorFromHeader(t *testing.T) {
	f := setupHandlers(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/claim",
		map[string]string{"name": "x"}, map[string]string{"X-Claimant": "alice"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.claims.actor != "alice" {
		t.Errorf("expected the header actor, got %q", f.claims.actor)
	}
}

func TestHandleValidate_Multipart(t *testing.T) {
	f := setupHandlers(t)
	f.validation.result = &services.BatchResult{Accepted: []string{"proof.Map.Gbx"}}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("user", "alice")
	fw, err := mw.CreateFormFile("file", "proof.Map.Gbx")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write([]byte("map bytes"))
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/validate", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.validation.actor != "alice" || f.validation.sub.Filename != "proof.Map.Gbx" {
		t.Errorf("service saw %q/%q", f.validation.actor, f.validation.sub.Filename)
	}
	if !bytes.Equal(f.validation.sub.Data, []byte("map bytes")) {
		t.Error("upload bytes did not reach the service")
	}
	if !strings.Contains(w.Body.String(), "proof.Map.Gbx") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestHandleDownloadMap(t *testing.T) {
	f := setupHandlers(t)
	f.maps.combos["Alpha - CarSnow"] = &models.Combination{
		Name:    "Alpha - CarSnow",
		Payload: []byte("gbx bytes"),
	}

	r := httptest.NewRequest(http.MethodGet, "/api/map/Alpha%20-%20CarSnow", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Alpha - CarSnow.Map.Gbx") {
		t.Errorf("content disposition %q", cd)
	}
	if w.Body.String() != "gbx bytes" {
		t.Error("payload bytes did not round-trip")
	}

	r = httptest.NewRequest(http.MethodGet, "/api/map/Nope", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown map, got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	f := setupHandlers(t)
	f.reports.rendered = "the grid"

	r := httptest.NewRequest(http.MethodGet, "/api/status/season-1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp handlers.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.CampaignID != "season-1" || resp.Rendered != "the grid" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	f := setupHandlers(t)

	paths := []string{
		"/api/admin/build",
		"/api/admin/fix/season-1",
		"/api/admin/invalidate",
		"/api/admin/dump/season-1",
		"/api/admin/refresh/season-1",
	}
	for _, path := range paths {
		w := doJSON(t, f.router, http.MethodPost, path, map[string]string{}, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 without a token, got %d", path, w.Code)
		}
	}
}

func TestHandleBuild_SeasonalVersusClub(t *testing.T) {
	f := setupHandlers(t)
	authed := map[string]string{"Authorization": "Bearer " + adminToken}

	w := doJSON(t, f.router, http.MethodPost, "/api/admin/build",
		map[string]string{"user": "alice"}, authed)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !f.campaigns.seasonal || f.campaigns.builtClub != "" {
		t.Error("expected the seasonal build path")
	}

	f = setupHandlers(t)
	w = doJSON(t, f.router, http.MethodPost, "/api/admin/build",
		map[string]string{"user": "alice", "club_id": "9"}, authed)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if f.campaigns.seasonal || f.campaigns.builtClub != "9" {
		t.Error("expected the club build path")
	}
}

func TestHandleFix_MapsServiceErrors(t *testing.T) {
	f := setupHandlers(t)
	f.campaigns.err = errors.Conflict("upstream rotated away")
	authed := map[string]string{"Authorization": "Bearer " + adminToken}

	w := doJSON(t, f.router, http.MethodPost, "/api/admin/fix/season-1", map[string]string{}, authed)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "CONFLICT") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	f.campaigns.err = errors.Upstream("fetch failed", nil)
	w = doJSON(t, f.router, http.MethodPost, "/api/admin/fix/season-1", map[string]string{}, authed)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestHandleDump(t *testing.T) {
	f := setupHandlers(t)
	authed := map[string]string{"Authorization": "Bearer " + adminToken}

	w := doJSON(t, f.router, http.MethodPost, "/api/admin/dump/season-1", map[string]string{}, authed)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(f.reports.dumped) != 1 || f.reports.dumped[0] != "season-1" {
		t.Errorf("dump calls %v", f.reports.dumped)
	}
}
