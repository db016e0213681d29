package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/tapreward/server/internal/middleware"
	"github.com/tapreward/server/internal/reward"
)

// RewardHandler handles claim, status and wallet challenge endpoints
type RewardHandler struct {
	service *reward.Service
	cookie  SessionCookie
}

// NewRewardHandler creates a new reward handler
func NewRewardHandler(service *reward.Service, cookie SessionCookie) *RewardHandler {
	return &RewardHandler{service: service, cookie: cookie}
}

// claimRequest is the request body for POST /reward/claim
type claimRequest struct {
	TapReference  string `json:"tapReference"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
	WalletAddress string `json:"walletAddress"`
}

// claimResponse is the JSON response for a successful claim
type claimResponse struct {
	Message       string    `json:"message"`
	ClaimID       string    `json:"claimId"`
	ClaimedAt     time.Time `json:"claimedAt"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
}

// HandleClaim handles POST /reward/claim
func (h *RewardHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimRequest
	if err := decodeBody(w, r, &body); err != nil {
		respondWithOutcome(w, reward.ErrMalformedRequest)
		return
	}

	req := reward.ClaimRequest{
		TapReference:  body.TapReference,
		WalletAddress: body.WalletAddress,
	}
	if token, ok := middleware.GetSessionToken(r.Context()); ok {
		req.SessionToken = token
	}
	if body.Message != "" || body.Signature != "" {
		req.Wallet = &reward.WalletProof{Message: body.Message, Signature: body.Signature}
	}

	claim, err := h.service.Claim(r.Context(), req)
	if err != nil {
		if errors.Is(err, reward.ErrUnauthenticated) && req.SessionToken != "" {
			h.cookie.clear(w)
		}
		respondWithOutcome(w, err)
		return
	}

	respondJSON(w, http.StatusOK, claimResponse{
		Message:       "Reward claimed successfully",
		ClaimID:       claim.ID.String(),
		ClaimedAt:     claim.ClaimedAt,
		WalletAddress: claim.WalletAddress,
	})
}

// statusResponse is the JSON response for GET /reward/status
type statusResponse struct {
	RewardActive  bool       `json:"rewardActive"`
	RewardClaimed bool       `json:"rewardClaimed"`
	PeriodID      string     `json:"periodId,omitempty"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	ClaimID       string     `json:"claimId,omitempty"`
}

// HandleStatus handles GET /reward/status
func (h *RewardHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.GetSessionToken(r.Context())
	status, err := h.service.Status(r.Context(), token)
	if err != nil {
		if errors.Is(err, reward.ErrUnauthenticated) && token != "" {
			h.cookie.clear(w)
		}
		respondWithOutcome(w, err)
		return
	}

	resp := statusResponse{RewardActive: status.RewardActive, RewardClaimed: status.RewardClaimed}
	if status.Period != nil {
		resp.PeriodID = status.Period.ID.String()
		resp.EndsAt = status.Period.EndedAt
	}
	if status.Claim != nil {
		resp.ClaimID = status.Claim.ID.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// walletMessageResponse is the JSON response for GET /wallet/message
type walletMessageResponse struct {
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HandleWalletMessage handles GET /wallet/message?address=0x...
func (h *RewardHandler) HandleWalletMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.Challenge(r.URL.Query().Get("address"))
	if err != nil {
		respondWithOutcome(w, err)
		return
	}
	respondJSON(w, http.StatusOK, walletMessageResponse{
		Message:   msg.String(),
		Nonce:     msg.Nonce,
		ExpiresAt: *msg.ExpirationTime,
	})
}
