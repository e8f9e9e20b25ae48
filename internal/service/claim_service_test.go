package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roamly-claim-server/internal/domain"
	"roamly-claim-server/internal/repository"
)

// mockClaimRepo mirrors the storage engine's behavior: creating a
// record whose fingerprint already exists fails with ErrConflict,
// atomically under the lock.
type mockClaimRepo struct {
	mu      sync.Mutex
	records map[string]*domain.ClaimRecord

	failCreate bool
	failDelete bool
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{records: make(map[string]*domain.ClaimRecord)}
}

func (m *mockClaimRepo) Create(ctx context.Context, record *domain.ClaimRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return fmt.Errorf("create claim record: %w", repository.ErrUnavailable)
	}
	if _, exists := m.records[record.Fingerprint]; exists {
		return repository.ErrConflict
	}
	copied := *record
	m.records[record.Fingerprint] = &copied
	return nil
}

func (m *mockClaimRepo) Find(ctx context.Context, fingerprint string) (*domain.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, exists := m.records[fingerprint]; exists {
		copied := *r
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockClaimRepo) Delete(ctx context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return fmt.Errorf("delete claim record: %w", repository.ErrUnavailable)
	}
	delete(m.records, fingerprint)
	return nil
}

func (m *mockClaimRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockAccountRepo enforces the same rule as the real one: ApplyBonus is
// the only way to change credits or the bonus flag, and it refuses a
// second application.
type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account

	failApply bool

	// applyGate, when set, stalls the first ApplyBonus caller until the
	// channel is closed. Later callers pass straight through, which lets
	// a test script the interleaving where a concurrent claim finishes
	// the credit while the original request is still in flight.
	applyGate    chan struct{}
	applyGateHit int32
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{accounts: make(map[string]*domain.Account)}
}

func (m *mockAccountRepo) Create(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *account
	m.accounts[account.ID] = &copied
	return nil
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, exists := m.accounts[id]; exists {
		copied := *a
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockAccountRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, email)
	return err == nil, nil
}

func (m *mockAccountRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAccountRepo) UpdateProfile(ctx context.Context, id, username string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, exists := m.accounts[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	a.Username = username
	a.UpdatedAt = time.Now()
	copied := *a
	return &copied, nil
}

func (m *mockAccountRepo) ApplyBonus(ctx context.Context, id, fingerprint string, amount int64) (*domain.Account, error) {
	if m.applyGate != nil && atomic.CompareAndSwapInt32(&m.applyGateHit, 0, 1) {
		<-m.applyGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApply {
		return nil, fmt.Errorf("apply bonus: %w", repository.ErrUnavailable)
	}
	a, exists := m.accounts[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	if a.BonusClaimed {
		return nil, repository.ErrConflict
	}
	a.Credits += amount
	a.BonusClaimed = true
	a.BonusFingerprint = fingerprint
	copied := *a
	return &copied, nil
}

func (m *mockAccountRepo) credits(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Credits
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyBalance(accountID string, balance, awarded int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, accountID)
}

const testBonus = 1000

var testFingerprint = strings.Repeat("ab", 32)

func newTestClaimService(t *testing.T) (*ClaimService, *mockClaimRepo, *mockAccountRepo, *recordingNotifier) {
	t.Helper()
	claimRepo := newMockClaimRepo()
	accountRepo := newMockAccountRepo()
	notifier := &recordingNotifier{}
	svc := NewClaimService(claimRepo, accountRepo, notifier, testBonus)
	return svc, claimRepo, accountRepo, notifier
}

func seedAccount(t *testing.T, repo *mockAccountRepo, id string) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.Account{
		ID:       id,
		Username: "traveler" + id,
		Email:    id + "@example.com",
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func TestClaimBonus_FreshDeviceFreshAccount(t *testing.T) {
	svc, claimRepo, accountRepo, notifier := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	result, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Status != domain.StatusClaimed {
		t.Errorf("expected status %s, got %s", domain.StatusClaimed, result.Status)
	}
	if result.CreditsAwarded != testBonus {
		t.Errorf("expected %d credits awarded, got %d", testBonus, result.CreditsAwarded)
	}
	if result.Balance != testBonus {
		t.Errorf("expected balance %d, got %d", testBonus, result.Balance)
	}
	if claimRepo.count() != 1 {
		t.Errorf("expected exactly 1 claim record, got %d", claimRepo.count())
	}
	if got := accountRepo.credits("acc1"); got != testBonus {
		t.Errorf("expected account credits %d, got %d", testBonus, got)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "acc1" {
		t.Errorf("expected one balance notification for acc1, got %v", notifier.calls)
	}
}

func TestClaimBonus_SecondAccountSameDevice(t *testing.T) {
	svc, _, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")
	seedAccount(t, accountRepo, "acc2")

	if _, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc2")
	if !errors.Is(err, ErrDeviceAlreadyClaimed) {
		t.Fatalf("expected ErrDeviceAlreadyClaimed, got %v", err)
	}

	if got := accountRepo.credits("acc2"); got != 0 {
		t.Errorf("second account credits changed: %d", got)
	}
}

func TestClaimBonus_SameAccountRetry(t *testing.T) {
	svc, _, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	if _, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// Retry after a timeout whose server-side effect committed: no
	// second credit, just the terminal outcome.
	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if !errors.Is(err, ErrAccountAlreadyClaimed) {
		t.Fatalf("expected ErrAccountAlreadyClaimed, got %v", err)
	}

	if got := accountRepo.credits("acc1"); got != testBonus {
		t.Errorf("expected credits %d after retry, got %d", testBonus, got)
	}
}

func TestClaimBonus_ConcurrentClaimsSameFingerprint(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)

	const n = 16
	accountIDs := make([]string, n)
	for i := range accountIDs {
		accountIDs[i] = "acc" + string(rune('a'+i))
		seedAccount(t, accountRepo, accountIDs[i])
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.ClaimBonus(context.Background(), testFingerprint, accountIDs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	var total int64
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrDeviceAlreadyClaimed):
		default:
			t.Errorf("claim %d: unexpected error %v", i, err)
		}
		total += accountRepo.credits(accountIDs[i])
	}

	if winners != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners)
	}
	if claimRepo.count() != 1 {
		t.Errorf("expected exactly 1 claim record, got %d", claimRepo.count())
	}
	if total != testBonus {
		t.Errorf("expected total credits %d across all accounts, got %d", testBonus, total)
	}
}

func TestClaimBonus_InvalidFingerprint(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	tests := []struct {
		name        string
		fingerprint string
	}{
		{"empty", ""},
		{"too short", "abcd"},
		{"too long", strings.Repeat("a", 65)},
		{"non-hex", strings.Repeat("z", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ClaimBonus(context.Background(), tt.fingerprint, "acc1")
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	if claimRepo.count() != 0 {
		t.Errorf("invalid fingerprints must not create records, got %d", claimRepo.count())
	}
}

func TestClaimBonus_MissingAccountID(t *testing.T) {
	svc, _, _, _ := newTestClaimService(t)

	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestClaimBonus_CompensatesFailedCredit(t *testing.T) {
	svc, claimRepo, accountRepo, notifier := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")
	accountRepo.failApply = true

	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if err == nil {
		t.Fatal("expected error when credit leg fails")
	}

	// The orphaned claim record must be rolled back so the device stays
	// claimable once storage recovers.
	if claimRepo.count() != 0 {
		t.Errorf("expected claim record to be rolled back, found %d", claimRepo.count())
	}
	if len(notifier.calls) != 0 {
		t.Errorf("no notification expected on failure, got %v", notifier.calls)
	}

	accountRepo.failApply = false
	result, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if err != nil {
		t.Fatalf("claim after recovery failed: %v", err)
	}
	if result.Status != domain.StatusClaimed {
		t.Errorf("expected status %s after recovery, got %s", domain.StatusClaimed, result.Status)
	}
}

func TestClaimBonus_RepairsInterruptedClaim(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	// Simulate a crash between the record insert and the credit: the
	// record exists but the account was never credited.
	err := claimRepo.Create(context.Background(), &domain.ClaimRecord{
		Fingerprint: testFingerprint,
		AccountID:   "acc1",
		ClaimedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed claim record: %v", err)
	}

	_, err = svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if !errors.Is(err, ErrAccountAlreadyClaimed) {
		t.Fatalf("expected ErrAccountAlreadyClaimed, got %v", err)
	}

	if got := accountRepo.credits("acc1"); got != testBonus {
		t.Errorf("expected interrupted credit to be completed, credits = %d", got)
	}
}

func waitForApplyGate(t *testing.T, repo *mockAccountRepo) {
	t.Helper()
	for i := 0; i < 400; i++ {
		if atomic.LoadInt32(&repo.applyGateHit) != 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("claim never reached the credit step")
}

func TestClaimBonus_ConcurrentRetryKeepsCreditedRecord(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")
	seedAccount(t, accountRepo, "acc2")

	gate := make(chan struct{})
	accountRepo.applyGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
		done <- err
	}()

	// The first claim creates its record and stalls in the credit leg. A
	// retry by the same account then finds the record and completes the
	// credit on its behalf.
	waitForApplyGate(t, accountRepo)
	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if !errors.Is(err, ErrAccountAlreadyClaimed) {
		t.Fatalf("expected ErrAccountAlreadyClaimed from retry, got %v", err)
	}

	close(gate)
	if err := <-done; !errors.Is(err, ErrAccountAlreadyClaimed) {
		t.Fatalf("expected ErrAccountAlreadyClaimed from stalled claim, got %v", err)
	}

	// The stalled claim sees the flag already set, but the credit belongs
	// to its own record; rolling the record back here would free a device
	// that was paid out.
	if claimRepo.count() != 1 {
		t.Fatalf("credited claim record was deleted, count = %d", claimRepo.count())
	}
	_, err = svc.ClaimBonus(context.Background(), testFingerprint, "acc2")
	if !errors.Is(err, ErrDeviceAlreadyClaimed) {
		t.Fatalf("expected ErrDeviceAlreadyClaimed for second account, got %v", err)
	}
	if total := accountRepo.credits("acc1") + accountRepo.credits("acc2"); total != testBonus {
		t.Errorf("total credits = %d, want %d", total, testBonus)
	}
}

func TestClaimBonus_ParallelDevicesSameAccount(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")
	seedAccount(t, accountRepo, "acc2")

	otherFingerprint := strings.Repeat("cd", 32)

	gate := make(chan struct{})
	accountRepo.applyGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
		done <- err
	}()

	// While the first device's claim is stalled in the credit leg, the
	// same account claims from a second device and wins.
	waitForApplyGate(t, accountRepo)
	result, err := svc.ClaimBonus(context.Background(), otherFingerprint, "acc1")
	if err != nil {
		t.Fatalf("second-device claim failed: %v", err)
	}
	if result.Status != domain.StatusClaimed {
		t.Fatalf("expected status %s, got %s", domain.StatusClaimed, result.Status)
	}

	close(gate)
	if err := <-done; !errors.Is(err, ErrAccountAlreadyClaimed) {
		t.Fatalf("expected ErrAccountAlreadyClaimed from stalled claim, got %v", err)
	}

	// The credit is bound to the second device, so the first device's
	// unpaid record must be rolled back and the device freed.
	if _, err := claimRepo.Find(context.Background(), testFingerprint); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unpaid claim record was kept: %v", err)
	}
	if _, err := claimRepo.Find(context.Background(), otherFingerprint); err != nil {
		t.Errorf("credited claim record missing: %v", err)
	}

	result, err = svc.ClaimBonus(context.Background(), testFingerprint, "acc2")
	if err != nil {
		t.Fatalf("freed device must be claimable by another account: %v", err)
	}
	if result.Status != domain.StatusClaimed {
		t.Errorf("expected status %s, got %s", domain.StatusClaimed, result.Status)
	}
}

func TestClaimBonus_DeviceOutcomeOutranksAccountState(t *testing.T) {
	svc, _, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")
	seedAccount(t, accountRepo, "acc2")

	otherFingerprint := strings.Repeat("cd", 32)
	if _, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := svc.ClaimBonus(context.Background(), otherFingerprint, "acc2"); err != nil {
		t.Fatalf("second claim failed: %v", err)
	}

	// acc2 already claimed on another device AND testFingerprint belongs
	// to acc1; the device outcome wins.
	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc2")
	if !errors.Is(err, ErrDeviceAlreadyClaimed) {
		t.Fatalf("expected ErrDeviceAlreadyClaimed, got %v", err)
	}

	// On the account's own device the account outcome still applies.
	_, err = svc.ClaimBonus(context.Background(), otherFingerprint, "acc2")
	if !errors.Is(err, ErrAccountAlreadyClaimed) {
		t.Fatalf("expected ErrAccountAlreadyClaimed, got %v", err)
	}
}

func TestClaimBonus_StorageUnavailable(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	claimRepo.failCreate = true
	_, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable when the record insert fails, got %v", err)
	}

	claimRepo.failCreate = false
	accountRepo.failApply = true
	_, err = svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable when the credit fails, got %v", err)
	}
}

func TestCheckEligibility(t *testing.T) {
	svc, _, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")
	seedAccount(t, accountRepo, "acc2")

	result, err := svc.CheckEligibility(context.Background(), testFingerprint, "acc1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Eligible {
		t.Error("fresh device and account should be eligible")
	}

	if _, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	result, err = svc.CheckEligibility(context.Background(), testFingerprint, "acc2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Eligible {
		t.Error("claimed device should not be eligible")
	}
	if result.Reason != domain.ReasonDeviceAlreadyClaimed {
		t.Errorf("expected reason %s, got %s", domain.ReasonDeviceAlreadyClaimed, result.Reason)
	}

	otherFingerprint := strings.Repeat("cd", 32)
	result, err = svc.CheckEligibility(context.Background(), otherFingerprint, "acc1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Eligible {
		t.Error("claimed account should not be eligible on a fresh device")
	}
	if result.Reason != domain.ReasonAccountAlreadyClaimed {
		t.Errorf("expected reason %s, got %s", domain.ReasonAccountAlreadyClaimed, result.Reason)
	}
}

func TestCheckEligibility_NeverMutates(t *testing.T) {
	svc, claimRepo, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	for i := 0; i < 10; i++ {
		if _, err := svc.CheckEligibility(context.Background(), testFingerprint, "acc1"); err != nil {
			t.Fatalf("eligibility check %d failed: %v", i, err)
		}
	}

	if claimRepo.count() != 0 {
		t.Errorf("eligibility checks created %d records", claimRepo.count())
	}
	if got := accountRepo.credits("acc1"); got != 0 {
		t.Errorf("eligibility checks changed credits: %d", got)
	}

	// The claim must still succeed exactly as if no checks had run.
	result, err := svc.ClaimBonus(context.Background(), testFingerprint, "acc1")
	if err != nil {
		t.Fatalf("claim after checks failed: %v", err)
	}
	if result.Status != domain.StatusClaimed {
		t.Errorf("expected status %s, got %s", domain.StatusClaimed, result.Status)
	}
}

func TestCheckEligibility_InvalidFingerprint(t *testing.T) {
	svc, _, accountRepo, _ := newTestClaimService(t)
	seedAccount(t, accountRepo, "acc1")

	_, err := svc.CheckEligibility(context.Background(), "not-hex", "acc1")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
