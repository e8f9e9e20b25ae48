package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"roamly-claim-server/internal/domain"
	"roamly-claim-server/internal/middleware"
	"roamly-claim-server/internal/service"
	"roamly-claim-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type BonusHandler struct {
	claimService *service.ClaimService
	validator    *validator.Validate
}

func NewBonusHandler(claimService *service.ClaimService) *BonusHandler {
	return &BonusHandler{
		claimService: claimService,
		validator:    validator.New(),
	}
}

// Eligibility is advisory and read-only. The answer can be stale by the
// time the claim lands; the claim itself re-checks under the
// transactional write.
func (h *BonusHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r)
	if accountID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	fingerprint := r.URL.Query().Get("fingerprint")

	result, err := h.claimService.CheckEligibility(r.Context(), fingerprint, accountID)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}

	response.Success(w, result)
}

// Claim runs the atomic bonus claim. Already-claimed outcomes come back
// as 200s with a terminal status: they are steady states the client
// renders, not errors.
func (h *BonusHandler) Claim(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r)
	if accountID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req domain.ClaimBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.claimService.ClaimBonus(r.Context(), req.Fingerprint, accountID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDeviceAlreadyClaimed):
			response.Success(w, &domain.ClaimResult{Status: domain.StatusAlreadyClaimedDevice})
			return
		case errors.Is(err, service.ErrAccountAlreadyClaimed):
			response.Success(w, &domain.ClaimResult{Status: domain.StatusAlreadyClaimedAccount})
			return
		}
		h.writeClaimError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *BonusHandler) writeClaimError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		response.BadRequest(w, "Malformed fingerprint")
	case errors.Is(err, service.ErrUnauthenticated):
		response.Unauthorized(w, "Unauthorized")
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(w, "Account not found")
	case errors.Is(err, service.ErrUnavailable):
		response.Unavailable(w, "Storage unavailable, retry later")
	default:
		response.InternalError(w, "Claim failed, retry later")
	}
}
