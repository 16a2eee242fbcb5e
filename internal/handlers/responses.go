package handlers

import (
	"net/http"
	"time"

	"github.com/tmxbot/envimix/internal/services"
)

// ClaimResponse is the JSON response for claim-engine transitions
type ClaimResponse struct {
	Result   string     `json:"result"`
	Message  string     `json:"message"`
	Deadline *time.Time `json:"deadline,omitempty"`
	// FileURL points at the map download when the transition delivered one.
	FileURL string `json:"file_url,omitempty"`
}

// StatusResponse is the rendered status grid for a campaign
type StatusResponse struct {
	CampaignID string `json:"campaign_id"`
	Rendered   string `json:"rendered"`
}

// BuildResponse is the response for a campaign build
type BuildResponse struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
}

// resultCodeString names a claim-engine result code on the wire
func resultCodeString(code services.ResultCode) string {
	switch code {
	case services.ResultOK:
		return "ok"
	case services.ResultAlreadyYours:
		return "already_yours"
	case services.ResultImpossibleDelivery:
		return "impossible"
	case services.ResultNotFound:
		return "not_found"
	case services.ResultAlreadyClaimed:
		return "already_claimed"
	case services.ResultNotClaimed:
		return "not_claimed"
	case services.ResultNotYours:
		return "not_yours"
	case services.ResultAlreadyValidated:
		return "already_validated"
	case services.ResultNotValidated:
		return "not_validated"
	case services.ResultCooldown:
		return "cooldown"
	case services.ResultNotAuthorized:
		return "not_authorized"
	}
	return "unknown"
}

// resultStatus maps a claim-engine result code to an HTTP status
func resultStatus(code services.ResultCode) int {
	switch code {
	case services.ResultOK, services.ResultAlreadyYours, services.ResultImpossibleDelivery:
		return http.StatusOK
	case services.ResultNotFound:
		return http.StatusNotFound
	case services.ResultNotAuthorized:
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}
