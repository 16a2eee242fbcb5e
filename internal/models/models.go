package models

import "time"

// Campaign is one envimix season built from an upstream campaign.
// The ID is assigned by the upstream race server, never generated locally.
type Campaign struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ClubID          string `json:"club_id,omitempty"` // empty for seasonal campaigns
	Submitter       string `json:"submitter,omitempty"`
	StatusChannelID string `json:"status_channel_id,omitempty"`
	StatusMessageID string `json:"status_message_id,omitempty"`
	NewsChannelID   string `json:"news_channel_id,omitempty"`
	NewsMessageID   string `json:"news_message_id,omitempty"`
}

// Car is a playable vehicle, created lazily the first time a variant
// references it and immutable afterwards.
type Car struct {
	ID string `json:"id"`
}

// Claimant is an external chat-platform account that claimed or validated
// at least one combination.
type Claimant struct {
	ID string `json:"id"`
}

// Combination is one (original map, car) pairing tracked as a claimable,
// validatable unit. Name is the globally unique display name
// "<original map> - <car>".
type Combination struct {
	ID              int64      `json:"id"`
	CampaignID      string     `json:"campaign_id"`
	CarID           string     `json:"car_id"`
	Name            string     `json:"name"`
	OriginalMapUID  string     `json:"original_map_uid"`
	OriginalMapName string     `json:"original_map_name"`
	MapUID          string     `json:"map_uid"`
	MapName         string     `json:"map_name"`
	Payload         []byte     `json:"-"` // serialized variant map file
	Order           int        `json:"order"`
	Validated       bool       `json:"validated"`
	Impossible      bool       `json:"impossible"`
	ClaimantID      string     `json:"claimant_id,omitempty"` // empty when unclaimed
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	UpstreamUpdated *time.Time `json:"upstream_updated,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// Claimed reports whether the combination currently has a claimant of record.
func (c *Combination) Claimed() bool {
	return c.ClaimantID != ""
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
