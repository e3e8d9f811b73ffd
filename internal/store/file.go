package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"secregistry/internal/certificate"
	apperrors "secregistry/internal/errors"
)

// FileStore persists certificates as a JSON array and roles as a JSON object,
// in the same two-file layout the registry has always used. Writes go through
// a temp file and rename so concurrent readers never observe a partially
// written record.
type FileStore struct {
	mu        sync.RWMutex
	certPath  string
	usersPath string

	idemMu sync.Mutex
	// Idempotency records guard a single process against replayed mutations;
	// they are not part of the persisted contract for this backend.
	idem map[string]IdempotencyRecord
}

func NewFileStore(certPath, usersPath string) *FileStore {
	return &FileStore{
		certPath:  certPath,
		usersPath: usersPath,
		idem:      map[string]IdempotencyRecord{},
	}
}

func (s *FileStore) AppendCertificate(ctx context.Context, rec certificate.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	certs, err := s.readCerts()
	if err != nil {
		return err
	}
	certs = append(certs, rec)
	return s.writeJSON(s.certPath, certs)
}

func (s *FileStore) ListCertificates(ctx context.Context) ([]certificate.Raw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readCerts()
}

func (s *FileStore) MaxCertificateID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	certs, err := s.readCerts()
	if err != nil {
		return 0, err
	}
	var max int64
	for _, c := range certs {
		if id, err := c.IDInt64(); err == nil && id > max {
			max = id
		}
	}
	return max, nil
}

func (s *FileStore) RegisterRole(ctx context.Context, address, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return err
	}
	users[strings.ToLower(address)] = role
	return s.writeJSON(s.usersPath, users)
}

func (s *FileStore) Role(ctx context.Context, address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.readUsers()
	if err != nil {
		return "", err
	}
	return users[strings.ToLower(address)], nil
}

func (s *FileStore) GetIdempotencyRecord(ctx context.Context, key, endpoint string) (*IdempotencyRecord, error) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	rec, ok := s.idem[endpoint+"\x00"+key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *FileStore) SaveIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	s.idem[rec.Endpoint+"\x00"+rec.Key] = rec
	return nil
}

func (s *FileStore) readCerts() ([]certificate.Raw, error) {
	data, err := os.ReadFile(s.certPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeStore, "read certificate file", err)
	}
	var certs []certificate.Raw
	if err := json.Unmarshal(data, &certs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStore, "decode certificate file", err)
	}
	return certs, nil
}

func (s *FileStore) readUsers() (map[string]string, error) {
	data, err := os.ReadFile(s.usersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeStore, "read users file", err)
	}
	users := map[string]string{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStore, "decode users file", err)
	}
	return users, nil
}

func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "encode "+filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStore, "create temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return apperrors.Wrap(apperrors.CodeStore, "write "+filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return apperrors.Wrap(apperrors.CodeStore, "close temp file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return apperrors.Wrap(apperrors.CodeStore, "replace "+filepath.Base(path), err)
	}
	return nil
}
