package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"secregistry/internal/certificate"
	apperrors "secregistry/internal/errors"
)

// PostgresStore keeps raw records as jsonb documents keyed by certificate id,
// preserving whatever field shape each record was issued with.
type PostgresStore struct{ DB *pgxpool.Pool }

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

// Connect opens a pool against DATABASE_URL-style DSNs.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the registry tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sec_certificates(
	seq BIGSERIAL PRIMARY KEY,
	cert_id BIGINT NOT NULL UNIQUE,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sec_roles(
	address TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sec_idempotency_records(
	idempotency_key TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	response_status INT NOT NULL,
	response_body JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (idempotency_key, endpoint)
);
`)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "ensure schema", err)
	}
	return nil
}

func (s *PostgresStore) AppendCertificate(ctx context.Context, rec certificate.Raw) error {
	id, err := rec.IDInt64()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "certificate id is not numeric", err)
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "encode certificate", err)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO sec_certificates(cert_id,doc) VALUES($1,$2::jsonb)
`, id, string(doc))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "insert certificate", err)
	}
	return nil
}

func (s *PostgresStore) ListCertificates(ctx context.Context) ([]certificate.Raw, error) {
	rows, err := s.DB.Query(ctx, `SELECT doc FROM sec_certificates ORDER BY seq`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStore, "list certificates", err)
	}
	defer rows.Close()

	var out []certificate.Raw
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStore, "scan certificate", err)
		}
		var rec certificate.Raw
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStore, "decode certificate", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStore, "list certificates", err)
	}
	return out, nil
}

func (s *PostgresStore) MaxCertificateID(ctx context.Context) (int64, error) {
	var max int64
	err := s.DB.QueryRow(ctx, `SELECT COALESCE(MAX(cert_id),0) FROM sec_certificates`).Scan(&max)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStore, "max certificate id", err)
	}
	return max, nil
}

func (s *PostgresStore) RegisterRole(ctx context.Context, address, role string) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO sec_roles(address,role) VALUES(lower($1),$2)
ON CONFLICT (address) DO UPDATE SET role=EXCLUDED.role
`, address, role)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "register role", err)
	}
	return nil
}

func (s *PostgresStore) Role(ctx context.Context, address string) (string, error) {
	var role string
	err := s.DB.QueryRow(ctx, `SELECT role FROM sec_roles WHERE address=lower($1)`, strings.TrimSpace(address)).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", apperrors.Wrap(apperrors.CodeStore, "lookup role", err)
	}
	return role, nil
}

func (s *PostgresStore) GetIdempotencyRecord(ctx context.Context, key, endpoint string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.DB.QueryRow(ctx, `
SELECT idempotency_key,endpoint,response_status,response_body
FROM sec_idempotency_records
WHERE idempotency_key=$1 AND endpoint=$2
`, key, endpoint).Scan(&rec.Key, &rec.Endpoint, &rec.ResponseStatus, &rec.ResponseBody)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeStore, "lookup idempotency record", err)
	}
	return &rec, nil
}

func (s *PostgresStore) SaveIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO sec_idempotency_records(idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4::jsonb)
ON CONFLICT (idempotency_key,endpoint) DO NOTHING
`, rec.Key, rec.Endpoint, rec.ResponseStatus, string(rec.ResponseBody))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "save idempotency record", err)
	}
	return nil
}
