package issuing

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"secregistry/internal/certificate"
	"secregistry/internal/chain"
	apperrors "secregistry/internal/errors"
	"secregistry/internal/store"
)

type fakeChain struct {
	receipt   *chain.Receipt
	err       error
	calls     int
	lastTo    common.Address
	lastWhole int64
}

func (f *fakeChain) Available() bool { return true }

func (f *fakeChain) IssueCertificate(ctx context.Context, to common.Address, wholeKwh int64) (*chain.Receipt, error) {
	f.calls++
	f.lastTo = to
	f.lastWhole = wholeKwh
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	dir := t.TempDir()
	return store.NewFileStore(filepath.Join(dir, "certificates.json"), filepath.Join(dir, "users.json"))
}

func countRecords(t *testing.T, st store.Store) int {
	t.Helper()
	certs, err := st.ListCertificates(context.Background())
	if err != nil {
		t.Fatalf("ListCertificates: %v", err)
	}
	return len(certs)
}

func TestMintRejectsNonPositiveEnergy(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, chain.Unavailable("test"))

	for _, energy := range []float64{0, -1.5} {
		_, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", energy)
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeValidation {
			t.Fatalf("expected VALIDATION_ERROR for energy %v, got %v", energy, err)
		}
	}
	if n := countRecords(t, st); n != 0 {
		t.Fatalf("expected no records after rejected mints, got %d", n)
	}
}

func TestMintRejectsMalformedAddress(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, chain.Unavailable("test"))

	_, err := svc.Mint(context.Background(), "not-an-address", 1)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if n := countRecords(t, st); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestMintFallbackAssignsFirstID(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, chain.Unavailable("test"))
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	got, err := svc.Mint(context.Background(), "0xabc1000000000000000000000000000000000000", 12.3456)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected id 1 on empty store, got %d", got.ID)
	}
	if got.EnergyKwh != 12.346 || got.EnergyWh != 12346 {
		t.Fatalf("unexpected normalized energy: %+v", got)
	}
	if got.Timestamp != 1700000000 {
		t.Fatalf("expected wall-clock timestamp, got %d", got.Timestamp)
	}
	if got.TxHash != nil {
		t.Fatalf("expected nil txHash on fallback path")
	}
	// The stored raw record keeps the unrounded energy and the checksummed owner.
	certs, err := st.ListCertificates(context.Background())
	if err != nil {
		t.Fatalf("ListCertificates: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("expected one record, got %d", len(certs))
	}
	if kwh, _ := certs[0].EnergyKwh.Float64(); kwh != 12.3456 {
		t.Fatalf("expected raw energy 12.3456, got %v", kwh)
	}
	if certs[0].Owner != common.HexToAddress("0xabc1000000000000000000000000000000000000").Hex() {
		t.Fatalf("expected checksummed owner, got %q", certs[0].Owner)
	}
}

func TestMintFallbackUsesMaxPlusOne(t *testing.T) {
	st := newTestStore(t)
	for _, id := range []int64{1, 3, 5} {
		if err := st.AppendCertificate(context.Background(), certificate.NewRaw(id, "0xabc", 1, 1600000000, nil)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := New(st, chain.Unavailable("test"))

	got, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 2)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got.ID != 6 {
		t.Fatalf("expected id 6 after {1,3,5}, got %d", got.ID)
	}
}

func TestMintConcurrentFallbackIDsAreSequential(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, chain.Unavailable("test"))

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 1)
			if err != nil {
				errs <- err
				return
			}
			ids <- got.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Mint: %v", err)
	}

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != n {
		t.Fatalf("expected %d ids, got %d", n, len(got))
	}
	for i, id := range got {
		if id != int64(i)+1 {
			t.Fatalf("expected sequential ids with no gaps, got %v", got)
		}
	}
}

func TestMintChainPathUsesEventIDAndTimestamp(t *testing.T) {
	st := newTestStore(t)
	id, ts := int64(42), int64(1690000000)
	fc := &fakeChain{receipt: &chain.Receipt{TxHash: "0xf00d", ID: &id, Timestamp: &ts}}
	svc := New(st, fc)

	got, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 3.5)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got.ID != 42 || got.Timestamp != 1690000000 {
		t.Fatalf("expected event id/timestamp, got %+v", got)
	}
	if got.TxHash == nil || *got.TxHash != "0xf00d" {
		t.Fatalf("expected tx hash on chain path, got %+v", got.TxHash)
	}
	if fc.calls != 1 {
		t.Fatalf("expected one chain submission, got %d", fc.calls)
	}
}

func TestMintChainPathTruncatesSubmittedEnergy(t *testing.T) {
	st := newTestStore(t)
	id, ts := int64(1), int64(1690000000)
	fc := &fakeChain{receipt: &chain.Receipt{TxHash: "0xf00d", ID: &id, Timestamp: &ts}}
	svc := New(st, fc)

	got, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 12.9)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	// On-chain amount is whole kWh; the record keeps full precision.
	if fc.lastWhole != 12 {
		t.Fatalf("expected truncated on-chain energy 12, got %d", fc.lastWhole)
	}
	if got.EnergyKwh != 12.9 {
		t.Fatalf("expected canonical energy 12.9, got %v", got.EnergyKwh)
	}
}

func TestMintChainPathWithoutEventAssignsLocalID(t *testing.T) {
	st := newTestStore(t)
	if err := st.AppendCertificate(context.Background(), certificate.NewRaw(4, "0xabc", 1, 1600000000, nil)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fc := &fakeChain{receipt: &chain.Receipt{TxHash: "0xf00d"}}
	svc := New(st, fc)
	svc.now = func() time.Time { return time.Unix(1700000007, 0) }

	got, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 1)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got.ID != 5 {
		t.Fatalf("expected local id 5, got %d", got.ID)
	}
	if got.Timestamp != 1700000007 {
		t.Fatalf("expected wall-clock timestamp, got %d", got.Timestamp)
	}
	if got.TxHash == nil || *got.TxHash != "0xf00d" {
		t.Fatalf("expected tx hash kept, got %+v", got.TxHash)
	}
}

func TestMintChainFailurePersistsNothing(t *testing.T) {
	st := newTestStore(t)
	fc := &fakeChain{err: apperrors.New(apperrors.CodeChain, "transaction reverted")}
	svc := New(st, fc)

	_, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 1)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeChain {
		t.Fatalf("expected CHAIN_ERROR, got %v", err)
	}
	if n := countRecords(t, st); n != 0 {
		t.Fatalf("expected no records after chain failure, got %d", n)
	}
}

type failingAppendStore struct {
	store.Store
	appendErr error
}

func (f *failingAppendStore) AppendCertificate(ctx context.Context, rec certificate.Raw) error {
	return f.appendErr
}

func TestMintStoreFailureSurfacesAfterChainConfirm(t *testing.T) {
	id, ts := int64(9), int64(1690000000)
	fc := &fakeChain{receipt: &chain.Receipt{TxHash: "0xf00d", ID: &id, Timestamp: &ts}}
	st := &failingAppendStore{
		Store:     newTestStore(t),
		appendErr: apperrors.New(apperrors.CodeStore, "disk full"),
	}
	svc := New(st, fc)

	_, err := svc.Mint(context.Background(), "0x00000000000000000000000000000000000000aa", 1)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeStore {
		t.Fatalf("expected STORE_ERROR, got %v", err)
	}
}
