package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/tmxbot/envimix/internal/repository"
	"github.com/tmxbot/envimix/internal/services"
)

// claimRequest is the body shared by the claim-engine endpoints
type claimRequest struct {
	User string `json:"user"`
	Name string `json:"name"`
}

func (h *Handlers) decodeClaimRequest(r *http.Request) (*claimRequest, error) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	req.User = actorFromRequest(r, req.User)
	if req.User == "" {
		return nil, BadRequest("Missing user")
	}
	if req.Name == "" {
		return nil, BadRequest("Missing combination name")
	}
	return &req, nil
}

func (h *Handlers) respondResult(w http.ResponseWriter, req *claimRequest, result *services.Result) {
	resp := ClaimResponse{
		Result:  resultCodeString(result.Code),
		Message: result.Message,
	}
	if !result.Deadline.IsZero() {
		deadline := result.Deadline
		resp.Deadline = &deadline
	}
	if len(result.Payload) > 0 {
		resp.FileURL = "/api/map/" + url.PathEscape(req.Name)
	}
	respondJSON(w, resultStatus(result.Code), resp)
}

// handleClaim attaches the requesting user to a combination
func (h *Handlers) handleClaim(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeClaimRequest(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.Claims.Claim(r.Context(), req.User, req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondResult(w, req, result)
}

// handleUnclaim releases the requesting user's claim
func (h *Handlers) handleUnclaim(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeClaimRequest(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.Claims.Unclaim(r.Context(), req.User, req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondResult(w, req, result)
}

// handleImpossible flags a combination as impossible
func (h *Handlers) handleImpossible(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeClaimRequest(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.Claims.MarkImpossible(r.Context(), req.User, req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondResult(w, req, result)
}

// handleValidate accepts a proof upload (single file or zip bundle)
func (h *Handlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.respondError(w, BadRequest("Invalid multipart form"))
		return
	}
	user := actorFromRequest(r, r.FormValue("user"))
	if user == "" {
		h.respondError(w, BadRequest("Missing user"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, BadRequest("Missing file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, BadRequest("Could not read upload"))
		return
	}

	result, err := h.Validation.Validate(r.Context(), user, services.Submission{
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondOK(w, result)
}

// handleStatus returns the rendered status grid for a campaign
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	rendered, err := h.Reports.RenderStatus(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondOK(w, StatusResponse{CampaignID: id, Rendered: rendered})
}

// handleListCampaigns returns the tracked campaigns
func (h *Handlers) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.Lister.ListCampaigns(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondOK(w, campaigns)
}

// handleDownloadMap streams a combination's map file by display name
func (h *Handlers) handleDownloadMap(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		h.respondError(w, BadRequest("Invalid map name"))
		return
	}
	combo, err := h.Maps.GetCombinationByName(r.Context(), name)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			h.respondError(w, NotFound("No such map"))
			return
		}
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+combo.Name+`.Map.Gbx"`)
	w.Write(combo.Payload)
}
