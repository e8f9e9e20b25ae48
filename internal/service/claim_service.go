package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"roamly-claim-server/internal/domain"
	"roamly-claim-server/internal/repository"
)

const fingerprintLen = 64 // hex-encoded 32-byte digest

// Notifier pushes a confirmed balance change to the account's connected
// sessions. The websocket manager implements it; tests use a stub.
type Notifier interface {
	NotifyBalance(accountID string, balance, awarded int64)
}

type ClaimService struct {
	claimRepo   repository.ClaimRepository
	accountRepo repository.AccountRepository
	notifier    Notifier
	bonusAmount int64
}

func NewClaimService(claimRepo repository.ClaimRepository, accountRepo repository.AccountRepository, notifier Notifier, bonusAmount int64) *ClaimService {
	return &ClaimService{
		claimRepo:   claimRepo,
		accountRepo: accountRepo,
		notifier:    notifier,
		bonusAmount: bonusAmount,
	}
}

// storageErr maps repository transport failures onto ErrUnavailable so
// the handler can answer 503 instead of a generic 500.
func storageErr(op string, err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func validFingerprint(fp string) bool {
	if len(fp) != fingerprintLen {
		return false
	}
	for _, c := range fp {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// CheckEligibility is purely advisory: it never writes, and a positive
// answer reserves nothing. A concurrent claim can still win the race.
func (s *ClaimService) CheckEligibility(ctx context.Context, fingerprint, accountID string) (*domain.EligibilityResult, error) {
	if !validFingerprint(fingerprint) {
		return nil, ErrInvalidArgument
	}
	if accountID == "" {
		return nil, ErrUnauthenticated
	}

	_, err := s.claimRepo.Find(ctx, fingerprint)
	if err == nil {
		return &domain.EligibilityResult{Eligible: false, Reason: domain.ReasonDeviceAlreadyClaimed}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageErr("failed to check claim record", err)
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("failed to load account", err)
	}
	if account.BonusClaimed {
		return &domain.EligibilityResult{Eligible: false, Reason: domain.ReasonAccountAlreadyClaimed}, nil
	}

	return &domain.EligibilityResult{Eligible: true}, nil
}

// ClaimBonus binds the fingerprint to the account and credits the bonus.
// The claim-record insert is the commit point: the storage engine admits
// exactly one record per fingerprint, so of N racing claims one creates
// the record and every other observes the conflict. The account credit
// is a single-document compare-and-set that only this path may perform.
func (s *ClaimService) ClaimBonus(ctx context.Context, fingerprint, accountID string) (*domain.ClaimResult, error) {
	if !validFingerprint(fingerprint) {
		return nil, ErrInvalidArgument
	}
	if accountID == "" {
		return nil, ErrUnauthenticated
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("failed to load account", err)
	}
	if account.BonusClaimed {
		// Device exclusivity outranks account state: a fingerprint bound
		// to someone else's claim reports the device outcome even when
		// this account has already used its bonus elsewhere.
		if existing, ferr := s.claimRepo.Find(ctx, fingerprint); ferr == nil && existing.AccountID != accountID {
			return nil, ErrDeviceAlreadyClaimed
		}
		return nil, ErrAccountAlreadyClaimed
	}

	record := &domain.ClaimRecord{
		Fingerprint: fingerprint,
		AccountID:   accountID,
		ClaimedAt:   time.Now().UTC(),
	}

	if err := s.claimRepo.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.resolveExistingClaim(ctx, fingerprint, accountID)
		}
		return nil, storageErr("failed to create claim record", err)
	}

	updated, err := s.accountRepo.ApplyBonus(ctx, accountID, fingerprint, s.bonusAmount)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// The flag flipped between our read and the credit. If the
			// credit that set it is bound to this fingerprint, a concurrent
			// request already finished our claim and the record is paid
			// for; it must stay. Deleting is only safe when the credit
			// landed on a different device, leaving our record unpaid.
			// When the re-read fails we keep the record: a bound device
			// is recoverable, a freed paid-out device is not.
			latest, ferr := s.accountRepo.FindByID(ctx, accountID)
			if ferr != nil || latest.BonusFingerprint == fingerprint {
				return nil, ErrAccountAlreadyClaimed
			}
			s.compensate(ctx, fingerprint)
			return nil, ErrAccountAlreadyClaimed
		}
		s.compensate(ctx, fingerprint)
		return nil, storageErr("failed to credit bonus", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyBalance(accountID, updated.Credits, s.bonusAmount)
	}

	return &domain.ClaimResult{
		Status:         domain.StatusClaimed,
		CreditsAwarded: s.bonusAmount,
		Balance:        updated.Credits,
	}, nil
}

// resolveExistingClaim decides which terminal outcome a conflicting
// claim maps to, and finishes the credit leg of an earlier claim by this
// account that committed its record but lost the credit write.
func (s *ClaimService) resolveExistingClaim(ctx context.Context, fingerprint, accountID string) error {
	existing, err := s.claimRepo.Find(ctx, fingerprint)
	if err != nil {
		// The record existed a moment ago; report the conservative outcome.
		return ErrDeviceAlreadyClaimed
	}

	if existing.AccountID != accountID {
		return ErrDeviceAlreadyClaimed
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err == nil && !account.BonusClaimed {
		if updated, err := s.accountRepo.ApplyBonus(ctx, accountID, fingerprint, s.bonusAmount); err == nil {
			log.Printf("claim: completed interrupted credit for account %s", accountID)
			if s.notifier != nil {
				s.notifier.NotifyBalance(accountID, updated.Credits, s.bonusAmount)
			}
		}
	}

	return ErrAccountAlreadyClaimed
}

func (s *ClaimService) compensate(ctx context.Context, fingerprint string) {
	if err := s.claimRepo.Delete(ctx, fingerprint); err != nil {
		log.Printf("claim: failed to roll back claim record %s: %v", fingerprint, err)
	}
}
