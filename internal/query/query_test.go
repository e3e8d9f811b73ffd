package query

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"secregistry/internal/certificate"
	apperrors "secregistry/internal/errors"
	"secregistry/internal/store"
)

func seededStore(t *testing.T) *store.FileStore {
	t.Helper()
	dir := t.TempDir()
	st := store.NewFileStore(filepath.Join(dir, "certificates.json"), filepath.Join(dir, "users.json"))
	ctx := context.Background()
	seed := []certificate.Raw{
		certificate.NewRaw(1, "0xAbC1000000000000000000000000000000000000", 12.3456, 1700000000, nil),
		certificate.NewRaw(2, "0xDef2000000000000000000000000000000000000", 3, 1700000001, nil),
		certificate.NewRaw(3, "0xabc1000000000000000000000000000000000000", 0.5, 1700000002, nil),
	}
	for _, rec := range seed {
		if err := st.AppendCertificate(ctx, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return st
}

func TestListAllKeepsInsertionOrder(t *testing.T) {
	svc := New(seededStore(t))

	certs, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(certs) != 3 {
		t.Fatalf("expected 3 certificates, got %d", len(certs))
	}
	for i, c := range certs {
		if c.ID != int64(i)+1 {
			t.Fatalf("expected insertion order, got ids %v %v %v", certs[0].ID, certs[1].ID, certs[2].ID)
		}
	}
	if certs[0].EnergyKwh != 12.346 {
		t.Fatalf("expected normalized energy on list, got %v", certs[0].EnergyKwh)
	}
}

func TestListByOwnerIsCaseInsensitive(t *testing.T) {
	svc := New(seededStore(t))

	certs, count, err := svc.ListByOwner(context.Background(), "0XABC1000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if count != 2 || len(certs) != 2 {
		t.Fatalf("expected 2 matches, got count=%d len=%d", count, len(certs))
	}
	if certs[0].ID != 1 || certs[1].ID != 3 {
		t.Fatalf("unexpected matches: %+v", certs)
	}
}

func TestListByOwnerNoMatches(t *testing.T) {
	svc := New(seededStore(t))

	certs, count, err := svc.ListByOwner(context.Background(), "0x9999000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if count != 0 || len(certs) != 0 {
		t.Fatalf("expected no matches, got count=%d len=%d", count, len(certs))
	}
}

func TestGetByID(t *testing.T) {
	svc := New(seededStore(t))

	got, err := svc.GetByID(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != 2 || got.EnergyKwh != 3 || got.EnergyWh != 3000 {
		t.Fatalf("unexpected certificate: %+v", got)
	}
}

func TestGetByIDAcceptsFloatEncodedID(t *testing.T) {
	dir := t.TempDir()
	st := store.NewFileStore(filepath.Join(dir, "certificates.json"), filepath.Join(dir, "users.json"))
	var raw certificate.Raw
	if err := json.Unmarshal([]byte(`{"id": 5.0, "owner": "0xabc", "energyKwh": 2, "timestamp": 1700000000}`), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := st.AppendCertificate(context.Background(), raw); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := New(st)

	got, err := svc.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != 5 || got.EnergyKwh != 2 {
		t.Fatalf("unexpected certificate: %+v", got)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	svc := New(seededStore(t))

	_, err := svc.GetByID(context.Background(), 999)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
