package repository

import (
	"context"
	"fmt"
	"net/http"

	"roamly-claim-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ClaimRepository stores one immutable record per device fingerprint.
// Create is the linearization point of the whole claim flow: CouchDB
// rejects a second Put for an existing document ID with a 409, so at
// most one record can ever exist per fingerprint no matter how many
// requests race. Delete exists only to compensate a claim whose credit
// leg failed; there is no update.
type ClaimRepository interface {
	Create(ctx context.Context, record *domain.ClaimRecord) error
	Find(ctx context.Context, fingerprint string) (*domain.ClaimRecord, error)
	Delete(ctx context.Context, fingerprint string) error
}

type claimRepository struct {
	client *kivik.Client
	dbName string
}

func NewClaimRepository(client *kivik.Client, dbName string) ClaimRepository {
	return &claimRepository{
		client: client,
		dbName: dbName,
	}
}

func claimDocID(fingerprint string) string {
	return fmt.Sprintf("claim:%s", fingerprint)
}

func (r *claimRepository) Create(ctx context.Context, record *domain.ClaimRecord) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, claimDocID(record.Fingerprint), record)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return wrapStorageErr("failed to create claim record", err)
	}

	return nil
}

func (r *claimRepository) Find(ctx context.Context, fingerprint string) (*domain.ClaimRecord, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, claimDocID(fingerprint))

	var record domain.ClaimRecord
	if err := row.ScanDoc(&record); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, wrapStorageErr("failed to find claim record", err)
	}

	return &record, nil
}

func (r *claimRepository) Delete(ctx context.Context, fingerprint string) error {
	db := r.client.DB(r.dbName)
	docID := claimDocID(fingerprint)

	row := db.Get(ctx, docID)

	var rawDoc map[string]interface{}
	if err := row.ScanDoc(&rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return wrapStorageErr("failed to read claim record", err)
	}

	rev, _ := rawDoc["_rev"].(string)
	if _, err := db.Delete(ctx, docID, rev); err != nil {
		return wrapStorageErr("failed to delete claim record", err)
	}

	return nil
}
