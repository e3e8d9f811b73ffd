package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/unidoc/unipdf/v3/common/license"

	"secregistry/internal/chain"
	apperrors "secregistry/internal/errors"
	"secregistry/internal/issuing"
	"secregistry/internal/pdf"
	"secregistry/internal/query"
	"secregistry/internal/store"
	"secregistry/pkg/httpx"
)

type server struct {
	store  store.Store
	issuer *issuing.Service
	query  *query.Service
}

func newServer(st store.Store, capability chain.Capability) *server {
	return &server{
		store:  st,
		issuer: issuing.New(st, capability),
		query:  query.New(st),
	}
}

func main() {
	_ = godotenv.Load()
	if key := strings.TrimSpace(os.Getenv("UNIDOC_LICENSE_API_KEY")); key != "" {
		if err := license.SetMeteredKey(key); err != nil {
			log.Printf("unidoc license: %v", err)
		}
	}
	ctx := context.Background()

	st, err := openStore(ctx)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	capability, err := chain.Dial(ctx, chainConfigFromEnv())
	if err != nil {
		log.Fatalf("chain: %v", err)
	}
	if capability.Available() {
		log.Printf("chain connected, issuing on-chain via %s", envStr("RPC_URL", "http://127.0.0.1:7545"))
	} else {
		log.Printf("no chain connection, issuing with local id assignment")
	}

	srv := newServer(st, capability)
	port := envStr("PORT", "5000")
	log.Printf("registry listening on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, srv.routes()))
}

// openStore picks the backend once at startup: Postgres when DATABASE_URL is
// set, the JSON flat-file layout otherwise.
func openStore(ctx context.Context) (store.Store, error) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		pool, err := store.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		ps := store.NewPostgresStore(pool)
		if err := ps.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return ps, nil
	}
	return store.NewFileStore(
		envStr("CERT_FILE", "certificates.json"),
		envStr("USERS_FILE", "users.json"),
	), nil
}

func chainConfigFromEnv() chain.Config {
	abiPath := strings.TrimSpace(os.Getenv("CONTRACT_ABI_FILE"))
	if abiPath == "" {
		if _, err := os.Stat("contract_abi.json"); err == nil {
			abiPath = "contract_abi.json"
		}
	}
	return chain.Config{
		RPCURL:          envStr("RPC_URL", "http://127.0.0.1:7545"),
		ContractAddress: strings.TrimSpace(os.Getenv("CONTRACT_ADDRESS")),
		OwnerPrivateKey: strings.TrimSpace(os.Getenv("OWNER_PRIVATE_KEY")),
		ChainID:         int64(envIntDefault("CHAIN_ID", 1337)),
		ABIPath:         abiPath,
		ConfirmTimeout:  time.Second * time.Duration(envIntDefault("CHAIN_CONFIRM_TIMEOUT_SEC", 120)),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Middleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Post("/mint", s.handleMint)
	r.Get("/certificates.json", s.handleListCertificates)
	r.Get("/tokensOfOwner/{address}", s.handleTokensOfOwner)
	r.Get("/getSEC/{id}", s.handleGetSEC)
	r.Get("/download_certificate/{id}", s.handleDownloadCertificate)

	r.Post("/register", s.handleRegister)
	r.Get("/userRole/{address}", s.handleUserRole)
	return r
}

func (s *server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To        string  `json:"to"`
		EnergyKwh float64 `json:"energyKwh"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, string(apperrors.CodeValidation), err.Error())
		return
	}

	const endpoint = "POST /mint"
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		rec, err := s.store.GetIdempotencyRecord(r.Context(), key, endpoint)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if rec != nil {
			w.Header().Set("content-type", "application/json")
			w.WriteHeader(rec.ResponseStatus)
			_, _ = w.Write(rec.ResponseBody)
			return
		}
	}

	cert, err := s.issuer.Mint(r.Context(), req.To, req.EnergyKwh)
	if err != nil {
		writeAppError(w, err)
		return
	}

	body := map[string]any{"success": true, "certificate": cert}
	if key != "" {
		encoded, _ := json.Marshal(body)
		_ = s.store.SaveIdempotencyRecord(r.Context(), store.IdempotencyRecord{
			Key:            key,
			Endpoint:       endpoint,
			ResponseStatus: 200,
			ResponseBody:   encoded,
		})
	}
	httpx.WriteJSON(w, 200, body)
}

func (s *server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := s.query.ListAll(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, certs)
}

func (s *server) handleTokensOfOwner(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	tokens, count, err := s.query.ListByOwner(r.Context(), address)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"tokens": tokens, "count": count})
}

func (s *server) handleGetSEC(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		httpx.WriteError(w, 404, string(apperrors.CodeNotFound), "certificate "+rawID+" not found")
		return
	}
	cert, err := s.query.GetByID(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, cert)
}

func (s *server) handleDownloadCertificate(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		httpx.WriteError(w, 404, string(apperrors.CodeNotFound), "certificate "+rawID+" not found")
		return
	}
	cert, err := s.query.GetByID(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	doc, err := pdf.Render(cert)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+pdf.Filename(cert.ID)+`"`)
	w.WriteHeader(200)
	_, _ = w.Write(doc)
}

var validRoles = map[string]struct{}{
	"admin":    {},
	"producer": {},
	"company":  {},
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Role    string `json:"role"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, string(apperrors.CodeValidation), err.Error())
		return
	}
	address := strings.TrimSpace(req.Address)
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if address == "" {
		httpx.WriteError(w, 400, string(apperrors.CodeValidation), "address is required")
		return
	}
	if _, ok := validRoles[role]; !ok {
		httpx.WriteError(w, 400, string(apperrors.CodeValidation), "role must be admin, producer or company")
		return
	}
	if err := s.store.RegisterRole(r.Context(), address, role); err != nil {
		writeAppError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"success": true, "role": role})
}

func (s *server) handleUserRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.store.Role(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	var body map[string]any
	if role == "" {
		body = map[string]any{"role": nil}
	} else {
		body = map[string]any{"role": role}
	}
	httpx.WriteJSON(w, 200, body)
}

// writeAppError maps the failure taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.CodeValidation:
			httpx.WriteError(w, 400, string(appErr.Code), appErr.Message)
		case apperrors.CodeNotFound:
			httpx.WriteError(w, 404, string(appErr.Code), appErr.Message)
		default:
			httpx.WriteError(w, 500, string(appErr.Code), appErr.Message)
		}
		return
	}
	httpx.WriteError(w, 500, "INTERNAL_ERROR", err.Error())
}

func envStr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v <= 0 {
		return def
	}
	return v
}
