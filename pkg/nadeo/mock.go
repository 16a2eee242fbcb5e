package nadeo

import (
	"context"
	"fmt"
)

// MockClient is a mock race-server client for testing
type MockClient struct {
	campaign     *Campaign
	clubCampaign map[string]*Campaign
	mapInfo      map[string]*MapRef
	files        map[string][]byte
	fetchErr     error
	downloadErr  error
	mapInfoErr   error

	DownloadCalls []string // download URLs requested, in order
}

// MockOption configures the mock client
type MockOption func(*MockClient)

// WithCampaign sets the seasonal campaign to return
func WithCampaign(c *Campaign) MockOption {
	return func(m *MockClient) {
		m.campaign = c
	}
}

// WithClubCampaign sets a club campaign to return for a club id
func WithClubCampaign(clubID string, c *Campaign) MockOption {
	return func(m *MockClient) {
		m.clubCampaign[clubID] = c
	}
}

// WithMapInfo sets map metadata to return for a uid
func WithMapInfo(ref *MapRef) MockOption {
	return func(m *MockClient) {
		m.mapInfo[ref.UID] = ref
	}
}

// WithFile sets the bytes returned for a download URL
func WithFile(downloadURL string, data []byte) MockOption {
	return func(m *MockClient) {
		m.files[downloadURL] = data
	}
}

// WithFetchError sets an error to return from campaign fetches
func WithFetchError(err error) MockOption {
	return func(m *MockClient) {
		m.fetchErr = err
	}
}

// WithDownloadError sets an error to return from DownloadMap
func WithDownloadError(err error) MockOption {
	return func(m *MockClient) {
		m.downloadErr = err
	}
}

// WithMapInfoError sets an error to return from GetMapInfo
func WithMapInfoError(err error) MockOption {
	return func(m *MockClient) {
		m.mapInfoErr = err
	}
}

// NewMockClient creates a new mock client with the given options
func NewMockClient(opts ...MockOption) *MockClient {
	m := &MockClient{
		clubCampaign: make(map[string]*Campaign),
		mapInfo:      make(map[string]*MapRef),
		files:        make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FetchSeasonalCampaign returns the configured campaign or error
func (m *MockClient) FetchSeasonalCampaign(ctx context.Context) (*Campaign, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if m.campaign == nil {
		return nil, fmt.Errorf("mock: no seasonal campaign configured")
	}
	return m.campaign, nil
}

// FetchClubCampaign returns the configured club campaign or error
func (m *MockClient) FetchClubCampaign(ctx context.Context, clubID string) (*Campaign, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	c, ok := m.clubCampaign[clubID]
	if !ok {
		return nil, fmt.Errorf("mock: no campaign for club %s", clubID)
	}
	return c, nil
}

// GetMapInfo returns the configured map metadata or error
func (m *MockClient) GetMapInfo(ctx context.Context, uid string) (*MapRef, error) {
	if m.mapInfoErr != nil {
		return nil, m.mapInfoErr
	}
	ref, ok := m.mapInfo[uid]
	if !ok {
		return nil, fmt.Errorf("mock: unknown map %s", uid)
	}
	return ref, nil
}

// DownloadMap returns the configured bytes for a download URL
func (m *MockClient) DownloadMap(ctx context.Context, downloadURL string) ([]byte, error) {
	m.DownloadCalls = append(m.DownloadCalls, downloadURL)
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	data, ok := m.files[downloadURL]
	if !ok {
		return nil, fmt.Errorf("mock: no file for %s", downloadURL)
	}
	return data, nil
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)
