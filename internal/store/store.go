// Package store persists certificate records, the wallet role mapping, and
// idempotency records. Two backends exist: a JSON flat-file store matching
// the original deployment layout, and a Postgres store. The backend is
// selected once at startup.
package store

import (
	"context"

	"secregistry/internal/certificate"
)

// IdempotencyRecord is a recorded mutation response, replayed when the same
// Idempotency-Key is presented again for the same endpoint.
type IdempotencyRecord struct {
	Key            string
	Endpoint       string
	ResponseStatus int
	ResponseBody   []byte
}

// Store is the persistence boundary of the registry. Certificate records are
// append-only: nothing in this interface mutates or deletes a record once
// appended.
type Store interface {
	// AppendCertificate adds one raw record to the end of the collection.
	AppendCertificate(ctx context.Context, rec certificate.Raw) error
	// ListCertificates returns all records in insertion order.
	ListCertificates(ctx context.Context) ([]certificate.Raw, error)
	// MaxCertificateID returns the highest id present, or 0 when empty.
	MaxCertificateID(ctx context.Context) (int64, error)

	// RegisterRole maps a wallet address (matched case-insensitively) to a role.
	RegisterRole(ctx context.Context, address, role string) error
	// Role returns the role for an address, or "" when none is registered.
	Role(ctx context.Context, address string) (string, error)

	GetIdempotencyRecord(ctx context.Context, key, endpoint string) (*IdempotencyRecord, error)
	SaveIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error
}
