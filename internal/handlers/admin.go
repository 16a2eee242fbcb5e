package handlers

import (
	"net/http"

	"github.com/tmxbot/envimix/internal/models"
)

// buildRequest is the body for campaign build requests
type buildRequest struct {
	User   string `json:"user"`
	ClubID string `json:"club_id,omitempty"`
}

// handleBuild builds the envimix campaign for the current seasonal campaign,
// or for a club campaign when club_id is set
func (h *Handlers) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	req.User = actorFromRequest(r, req.User)

	var (
		campaign *models.Campaign
		err      error
	)
	if req.ClubID != "" {
		campaign, err = h.Campaigns.BuildClub(r.Context(), req.ClubID, req.User)
	} else {
		campaign, err = h.Campaigns.BuildSeasonal(r.Context(), req.User)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondCreated(w, BuildResponse{CampaignID: campaign.ID, Name: campaign.Name})
}

// handleFix reconciles a campaign against its upstream playlist
func (h *Handlers) handleFix(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.Campaigns.Fix(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondOK(w, result)
}

// handleInvalidate strips a combination's validation
func (h *Handlers) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeClaimRequest(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.Claims.Invalidate(r.Context(), req.User, req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondResult(w, req, result)
}

// handleDump posts the completed-car archives for a campaign
func (h *Handlers) handleDump(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Reports.Dump(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	respondOK(w, map[string]string{"message": "dump posted"})
}

// handleRefresh re-renders and republishes a campaign's status message
func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Reports.RefreshStatus(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	respondOK(w, map[string]string{"message": "status refreshed"})
}
