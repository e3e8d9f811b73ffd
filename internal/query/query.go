// Package query is the read side of the registry: every lookup normalizes
// stored records into the one canonical certificate shape.
package query

import (
	"context"
	"strings"

	"secregistry/internal/certificate"
	apperrors "secregistry/internal/errors"
	"secregistry/internal/store"
)

type Service struct {
	store store.Store
}

func New(st store.Store) *Service { return &Service{store: st} }

// ListAll returns every certificate in insertion order.
func (s *Service) ListAll(ctx context.Context) ([]certificate.Canonical, error) {
	raws, err := s.store.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]certificate.Canonical, 0, len(raws))
	for _, raw := range raws {
		c, err := certificate.Normalize(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListByOwner returns the certificates whose owner matches the address
// case-insensitively, with their count.
func (s *Service) ListByOwner(ctx context.Context, address string) ([]certificate.Canonical, int, error) {
	raws, err := s.store.ListCertificates(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := []certificate.Canonical{}
	for _, raw := range raws {
		if !strings.EqualFold(raw.Owner, address) {
			continue
		}
		c, err := certificate.Normalize(raw)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

// GetByID returns the certificate with the given id, or NOT_FOUND.
func (s *Service) GetByID(ctx context.Context, id int64) (certificate.Canonical, error) {
	raws, err := s.store.ListCertificates(ctx)
	if err != nil {
		return certificate.Canonical{}, err
	}
	for _, raw := range raws {
		recID, err := raw.IDInt64()
		if err != nil {
			continue
		}
		if recID == id {
			return certificate.Normalize(raw)
		}
	}
	return certificate.Canonical{}, apperrors.Newf(apperrors.CodeNotFound, "certificate %d not found", id)
}
