package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"roamly-claim-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("document conflict")
	ErrUnavailable = errors.New("storage unavailable")
)

// wrapStorageErr folds transport-level failures into ErrUnavailable so
// the service layer can tell "the database is down" apart from a bad
// request. Kivik reports non-HTTP errors (connection refused, timeouts)
// with a 500 status.
func wrapStorageErr(op string, err error) error {
	if kivik.HTTPStatus(err) >= http.StatusInternalServerError {
		return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// applyBonusAttempts bounds the CAS retry loop in ApplyBonus. The loop
// only ever races with unrelated profile updates on the same document,
// so a handful of retries is plenty.
const applyBonusAttempts = 5

// AccountRepository is the only write path to account documents.
// Credits and the bonus flag can be changed exclusively through
// ApplyBonus; UpdateProfile rewrites profile fields and nothing else.
// Field-level protection lives here, not in handler convention.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateProfile(ctx context.Context, id, username string) (*domain.Account, error)
	ApplyBonus(ctx context.Context, id, fingerprint string, amount int64) (*domain.Account, error)
}

type accountRepository struct {
	client *kivik.Client
	dbName string
}

func NewAccountRepository(client *kivik.Client, dbName string) AccountRepository {
	return &accountRepository{
		client: client,
		dbName: dbName,
	}
}

func accountDocID(id string) string {
	return fmt.Sprintf("account:%s", id)
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, accountDocID(account.ID), account)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return wrapStorageErr("failed to create account", err)
	}

	return nil
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, accountDocID(id))

	var account domain.Account
	if err := row.ScanDoc(&account); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, wrapStorageErr("failed to find account by ID", err)
	}

	return &account, nil
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"email": email,
		},
		"limit": 1,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query account by email: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var account domain.Account
	if err := rows.ScanDoc(&account); err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	return &account, nil
}

func (r *accountRepository) findByUsername(ctx context.Context, username string) (*domain.Account, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"username": username,
		},
		"limit": 1,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query account by username: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var account domain.Account
	if err := rows.ScanDoc(&account); err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	return &account, nil
}

func (r *accountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *accountRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.findByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateProfile rewrites only the profile fields on the raw document.
// The raw-map round trip keeps _rev and every field this method is not
// allowed to touch, credits and bonus_claimed included.
func (r *accountRepository) UpdateProfile(ctx context.Context, id, username string) (*domain.Account, error) {
	db := r.client.DB(r.dbName)
	docID := accountDocID(id)

	var rawDoc map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	rawDoc["username"] = username
	rawDoc["updated_at"] = time.Now().UTC()

	if _, err := db.Put(ctx, docID, rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update account profile: %w", err)
	}

	return r.FindByID(ctx, id)
}

// ApplyBonus credits the account, sets the bonus flag and records the
// fingerprint whose claim record the credit belongs to, all in a single
// document write. A rev conflict means someone else updated the doc
// between our read and write; re-read and retry. The flag check inside
// the loop makes a second credit impossible even across retries.
func (r *accountRepository) ApplyBonus(ctx context.Context, id, fingerprint string, amount int64) (*domain.Account, error) {
	db := r.client.DB(r.dbName)
	docID := accountDocID(id)

	for attempt := 0; attempt < applyBonusAttempts; attempt++ {
		var rawDoc map[string]interface{}
		row := db.Get(ctx, docID)
		if err := row.ScanDoc(&rawDoc); err != nil {
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				return nil, ErrNotFound
			}
			return nil, wrapStorageErr("failed to read account", err)
		}

		if claimed, _ := rawDoc["bonus_claimed"].(bool); claimed {
			return nil, ErrConflict
		}

		credits := int64(0)
		if v, ok := rawDoc["credits"].(float64); ok {
			credits = int64(v)
		}

		rawDoc["credits"] = credits + amount
		rawDoc["bonus_claimed"] = true
		rawDoc["bonus_fingerprint"] = fingerprint
		rawDoc["updated_at"] = time.Now().UTC()

		_, err := db.Put(ctx, docID, rawDoc)
		if err == nil {
			return r.FindByID(ctx, id)
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return nil, wrapStorageErr("failed to apply bonus", err)
		}
	}

	return nil, fmt.Errorf("failed to apply bonus after %d attempts", applyBonusAttempts)
}
