package handler

import (
	"encoding/json"
	"net/http"

	"roamly-claim-server/internal/domain"
	"roamly-claim-server/internal/middleware"
	"roamly-claim-server/internal/service"
	"roamly-claim-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AccountHandler struct {
	accountService *service.AccountService
	validator      *validator.Validate
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		validator:      validator.New(),
	}
}

func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r)
	if accountID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	account, err := h.accountService.GetByID(r.Context(), accountID)
	if err != nil {
		response.NotFound(w, "Account not found")
		return
	}

	response.Success(w, account)
}

// UpdateMe decodes into UpdateProfileRequest, so a body that smuggles
// credits or bonus_claimed fields is silently reduced to the profile
// fields before it ever reaches the service.
func (h *AccountHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r)
	if accountID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req domain.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	account, err := h.accountService.UpdateProfile(r.Context(), accountID, &req)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	response.Success(w, account)
}
