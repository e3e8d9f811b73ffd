// Package issuing implements certificate issuance: argument validation,
// chain-versus-fallback path selection, id assignment, and the single
// append to the store.
package issuing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"secregistry/internal/certificate"
	"secregistry/internal/chain"
	apperrors "secregistry/internal/errors"
	"secregistry/internal/store"
)

// Service issues certificates. It is the only writer of certificate records.
type Service struct {
	store store.Store
	chain chain.Capability

	// mu makes read-max-id followed by append a critical section, so
	// concurrent fallback mints never derive the same id from a stale read.
	mu  sync.Mutex
	now func() time.Time
}

func New(st store.Store, capability chain.Capability) *Service {
	return &Service{store: st, chain: capability, now: time.Now}
}

// Mint issues a certificate for `to` over the given energy amount and
// returns its canonical form. With a chain capability available the id and
// timestamp come from the CertificateIssued event; otherwise (or when the
// event is absent from the receipt) the id is assigned locally as
// max(existing)+1 with the current wall-clock time.
//
// Exactly one record is appended on success. A chain failure propagates
// before anything is persisted. A store failure after a confirmed chain
// transaction leaves the chain and the local record set inconsistent; that
// case is logged with the transaction hash and surfaced to the caller.
func (s *Service) Mint(ctx context.Context, to string, energyKwh float64) (certificate.Canonical, error) {
	if energyKwh <= 0 {
		return certificate.Canonical{}, apperrors.New(apperrors.CodeValidation, "energy must be > 0")
	}
	if !common.IsHexAddress(to) {
		return certificate.Canonical{}, apperrors.Newf(apperrors.CodeValidation, "%q is not a valid wallet address", to)
	}
	// Stored owner keeps the checksummed form; matching elsewhere is
	// case-insensitive.
	owner := common.HexToAddress(to)

	var txHash *string
	var eventID, eventTS *int64
	if s.chain.Available() {
		// The on-chain unit is whole kWh; fractional energy is truncated on
		// submission while the stored record keeps full precision.
		receipt, err := s.chain.IssueCertificate(ctx, owner, int64(energyKwh))
		if err != nil {
			return certificate.Canonical{}, err
		}
		txHash = &receipt.TxHash
		eventID, eventTS = receipt.ID, receipt.Timestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	if eventID != nil {
		id = *eventID
	} else {
		max, err := s.store.MaxCertificateID(ctx)
		if err != nil {
			return certificate.Canonical{}, err
		}
		id = max + 1
	}
	ts := s.now().Unix()
	if eventTS != nil {
		ts = *eventTS
	}

	raw := certificate.NewRaw(id, owner.Hex(), energyKwh, ts, txHash)
	if err := s.store.AppendCertificate(ctx, raw); err != nil {
		if txHash != nil {
			log.Printf("issuing: store append failed after confirmed chain tx %s; chain and local records are now inconsistent: %v", *txHash, err)
		}
		return certificate.Canonical{}, err
	}
	return certificate.Normalize(raw)
}
