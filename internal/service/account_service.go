package service

import (
	"context"
	"errors"
	"fmt"

	"roamly-claim-server/internal/domain"
	"roamly-claim-server/internal/repository"
)

type AccountService struct {
	accountRepo repository.AccountRepository
}

func NewAccountService(accountRepo repository.AccountRepository) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
	}
}

func (s *AccountService) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	account.Password = ""
	return account, nil
}

// UpdateProfile changes profile fields only. Balance and bonus state are
// out of reach here: the repository's profile write path cannot touch
// them, whatever the caller sends.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, req *domain.UpdateProfileRequest) (*domain.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	usernameExists, err := s.accountRepo.UsernameExists(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if usernameExists && account.Username != req.Username {
		return nil, fmt.Errorf("username already taken")
	}

	updated, err := s.accountRepo.UpdateProfile(ctx, accountID, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	updated.Password = ""
	return updated, nil
}
