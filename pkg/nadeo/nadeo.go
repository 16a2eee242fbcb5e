// Package nadeo provides a client for the race server's live campaign API.
package nadeo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tmxbot/envimix/internal/logger"
)

// MapRef is one map entry of an upstream campaign, in playlist order.
type MapRef struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	UpdatedAt   time.Time `json:"updated_at"`
	DownloadURL string    `json:"download_url"`
}

// Campaign is the upstream campaign metadata with its ordered map list.
type Campaign struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	ClubID string   `json:"club_id,omitempty"`
	Maps   []MapRef `json:"maps"`
}

// Client defines the interface for race-server operations
type Client interface {
	// FetchSeasonalCampaign retrieves the current official seasonal campaign
	FetchSeasonalCampaign(ctx context.Context) (*Campaign, error)
	// FetchClubCampaign retrieves a club campaign by club id
	FetchClubCampaign(ctx context.Context, clubID string) (*Campaign, error)
	// GetMapInfo retrieves a single map's metadata by uid
	GetMapInfo(ctx context.Context, uid string) (*MapRef, error)
	// DownloadMap fetches a map file from its download URL
	DownloadMap(ctx context.Context, downloadURL string) ([]byte, error)
}

// HTTPClient is a real HTTP client for the race server
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
	token      string
}

// NewHTTPClient creates a new race-server HTTP client
func NewHTTPClient(baseURL, token string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:   log,
		token: token,
	}
}

// NewHTTPClientWithHTTPClient creates a client with a custom http.Client
func NewHTTPClientWithHTTPClient(baseURL, token string, httpClient *http.Client, log logger.Logger) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, token: token, httpClient: httpClient, log: log}
}

// doRequest executes a GET request against the race server and decodes the
// JSON response, handling common error checking in one place.
func (c *HTTPClient) doRequest(ctx context.Context, path string, response interface{}) error {
	apiURL := c.baseURL + path

	c.log.Debug("Race server request", "method", "GET", "url", apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "nadeo_v1 t="+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to race server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug("Race server response", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("race server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// campaignResponse is the wire shape of campaign endpoints
type campaignResponse struct {
	ID     string `json:"campaignId"`
	Name   string `json:"name"`
	ClubID string `json:"clubId"`
	Maps   []struct {
		UID         string `json:"mapUid"`
		Name        string `json:"name"`
		UpdatedAt   int64  `json:"updateTimestamp"`
		DownloadURL string `json:"fileUrl"`
	} `json:"playlist"`
}

func (r *campaignResponse) toCampaign() *Campaign {
	camp := &Campaign{ID: r.ID, Name: r.Name, ClubID: r.ClubID}
	for _, m := range r.Maps {
		camp.Maps = append(camp.Maps, MapRef{
			UID:         m.UID,
			Name:        m.Name,
			UpdatedAt:   time.Unix(m.UpdatedAt, 0).UTC(),
			DownloadURL: m.DownloadURL,
		})
	}
	return camp
}

// FetchSeasonalCampaign retrieves the current official seasonal campaign
func (c *HTTPClient) FetchSeasonalCampaign(ctx context.Context) (*Campaign, error) {
	var resp struct {
		CampaignList []campaignResponse `json:"campaignList"`
	}
	if err := c.doRequest(ctx, "/api/campaign/official?offset=0&length=1", &resp); err != nil {
		return nil, err
	}
	if len(resp.CampaignList) == 0 {
		return nil, fmt.Errorf("race server returned no seasonal campaign")
	}
	return resp.CampaignList[0].toCampaign(), nil
}

// FetchClubCampaign retrieves a club campaign by club id
func (c *HTTPClient) FetchClubCampaign(ctx context.Context, clubID string) (*Campaign, error) {
	var resp campaignResponse
	path := fmt.Sprintf("/api/club/%s/campaign", url.PathEscape(clubID))
	if err := c.doRequest(ctx, path, &resp); err != nil {
		return nil, err
	}
	camp := resp.toCampaign()
	camp.ClubID = clubID
	return camp, nil
}

// GetMapInfo retrieves a single map's metadata by uid
func (c *HTTPClient) GetMapInfo(ctx context.Context, uid string) (*MapRef, error) {
	var resp struct {
		UID         string `json:"mapUid"`
		Name        string `json:"name"`
		UpdatedAt   int64  `json:"updateTimestamp"`
		DownloadURL string `json:"fileUrl"`
	}
	path := fmt.Sprintf("/api/map/%s", url.PathEscape(uid))
	if err := c.doRequest(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &MapRef{
		UID:         resp.UID,
		Name:        resp.Name,
		UpdatedAt:   time.Unix(resp.UpdatedAt, 0).UTC(),
		DownloadURL: resp.DownloadURL,
	}, nil
}

// DownloadMap fetches a map file from its download URL
func (c *HTTPClient) DownloadMap(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download map: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("map download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read map data: %w", err)
	}
	return data, nil
}
