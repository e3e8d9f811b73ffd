// Package chain abstracts the on-chain issuance path. The registry is handed
// a Capability at startup: either a live client bound to the certificate
// contract, or the Unavailable variant, in which case issuance falls back to
// local id assignment.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	apperrors "secregistry/internal/errors"
)

// Receipt is the outcome of a confirmed issuance transaction. ID and
// Timestamp are taken from the CertificateIssued event and are nil when the
// receipt carried no decodable event.
type Receipt struct {
	TxHash    string
	ID        *int64
	Timestamp *int64
}

// Capability submits issuance transactions and awaits their confirmation.
type Capability interface {
	// Available reports whether a chain connection is configured and was
	// reachable at startup. When false, IssueCertificate must not be called.
	Available() bool
	// IssueCertificate submits issueCertificate(to, wholeKwh) and waits for
	// the receipt. The wait is bounded by ctx.
	IssueCertificate(ctx context.Context, to common.Address, wholeKwh int64) (*Receipt, error)
}

type unavailable struct{ reason string }

// Unavailable returns the no-chain variant of the capability.
func Unavailable(reason string) Capability { return unavailable{reason: reason} }

func (u unavailable) Available() bool { return false }

func (u unavailable) IssueCertificate(ctx context.Context, to common.Address, wholeKwh int64) (*Receipt, error) {
	return nil, apperrors.Newf(apperrors.CodeChain, "chain capability unavailable: %s", u.reason)
}
