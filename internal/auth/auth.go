// Package auth provides caller identities for escrowd: ed25519 keypairs kept
// on disk, request signing for clients and signature verification for the
// API server. The verified public key is the caller's ledger identity.
package auth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/escrowd/internal/models"
)

// Request headers carrying a signature.
const (
	HeaderKey       = "X-Escrow-Key"
	HeaderTimestamp = "X-Escrow-Timestamp"
	HeaderSignature = "X-Escrow-Signature"
	HeaderNonce     = "X-Escrow-Nonce"
)

const (
	// DefaultMaxSkew bounds signed timestamps when no skew is configured.
	DefaultMaxSkew = 5 * time.Minute
	// DefaultMaxBody caps the body read while checking a signature.
	DefaultMaxBody = 1 << 20
	// DefaultMaxNonces caps the nonces remembered inside the skew window.
	DefaultMaxNonces = 1 << 16

	maxNonceLen = 128
)

var (
	ErrMissingSignature = errors.New("request is not signed")
	ErrBadSignature     = errors.New("invalid request signature")
	ErrStaleTimestamp   = errors.New("signature timestamp outside allowed skew")
	ErrReplayed         = errors.New("request nonce already used")
	ErrNonceCacheFull   = errors.New("too many signed requests in flight, retry later")
)

// Identity is a signing keypair.
type Identity struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// keyFile is the on-disk form of an identity.
type keyFile struct {
	PublicKey string `json:"public_key"`
	Seed      string `json:"seed"`
	CreatedAt int64  `json:"created_at"`
}

// Generate creates a fresh identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return &Identity{public: pub, private: priv}, nil
}

// FromSeed derives an identity from a 32-byte seed.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Address is the identity's ledger address.
func (id *Identity) Address() models.Address {
	var a models.Address
	copy(a[:], id.public)
	return a
}

// Load reads an identity from path.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	seed, err := hex.DecodeString(kf.Seed)
	if err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	id, err := FromSeed(seed)
	if err != nil {
		return nil, err
	}
	if kf.PublicKey != "" && kf.PublicKey != id.Address().String() {
		return nil, fmt.Errorf("key file %s: public key does not match seed", path)
	}
	return id, nil
}

// Save writes the identity to path with owner-only permissions.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key dir: %w", err)
	}
	data, err := json.MarshalIndent(keyFile{
		PublicKey: id.Address().String(),
		Seed:      hex.EncodeToString(id.private.Seed()),
		CreatedAt: time.Now().Unix(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadOrCreate loads the identity at path, generating and saving one if
// the file does not exist.
func LoadOrCreate(path string) (*Identity, bool, error) {
	id, err := Load(path)
	if err == nil {
		return id, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, err
	}
	if id, err = Generate(); err != nil {
		return nil, false, err
	}
	if err := id.Save(path); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// message is what gets signed: method, path, timestamp, nonce and body digest.
func message(method, path string, ts int64, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s\n%s", method, path, ts, nonce, hex.EncodeToString(sum[:])))
}

// SignRequest attaches the identity's signature to req under a fresh nonce.
func (id *Identity) SignRequest(req *http.Request, body []byte, now time.Time) {
	ts := now.Unix()
	nonce := uuid.NewString()
	sig := ed25519.Sign(id.private, message(req.Method, req.URL.Path, ts, nonce, body))
	req.Header.Set(HeaderKey, id.Address().String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
}

// Verifier checks request signatures and refuses a (key, nonce) pair it has
// already accepted while that pair's timestamp is still inside MaxSkew.
type Verifier struct {
	MaxSkew   time.Duration
	MaxBody   int64
	MaxNonces int
	Now       func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // signer/nonce -> expiry
}

// NewVerifier creates a verifier with the given skew.
func NewVerifier(maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{
		MaxSkew:   maxSkew,
		MaxBody:   DefaultMaxBody,
		MaxNonces: DefaultMaxNonces,
		Now:       time.Now,
		seen:      make(map[string]time.Time),
	}
}

// Verify checks r's signature and returns the signer. The body is read and
// replaced so handlers can still decode it.
func (v *Verifier) Verify(r *http.Request) (models.Address, error) {
	keyHex := r.Header.Get(HeaderKey)
	tsStr := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	sigHex := r.Header.Get(HeaderSignature)
	if keyHex == "" || tsStr == "" || nonce == "" || sigHex == "" {
		return models.Address{}, ErrMissingSignature
	}
	if len(nonce) > maxNonceLen {
		return models.Address{}, fmt.Errorf("%w: nonce too long", ErrBadSignature)
	}

	signer, err := models.ParseAddress(keyHex)
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	now := v.Now()
	signedAt := time.Unix(ts, 0)
	skew := now.Sub(signedAt)
	if skew < -v.MaxSkew || skew > v.MaxSkew {
		return models.Address{}, ErrStaleTimestamp
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return models.Address{}, ErrBadSignature
	}

	var body []byte
	if r.Body != nil {
		limit := v.MaxBody
		if limit <= 0 {
			limit = DefaultMaxBody
		}
		if body, err = io.ReadAll(http.MaxBytesReader(nil, r.Body, limit)); err != nil {
			return models.Address{}, fmt.Errorf("reading body: %w", err)
		}
		r.Body.Close()
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if !ed25519.Verify(ed25519.PublicKey(signer[:]), message(r.Method, r.URL.Path, ts, nonce, body), sig) {
		return models.Address{}, ErrBadSignature
	}
	if err := v.remember(signer.String()+"/"+nonce, signedAt.Add(v.MaxSkew), now); err != nil {
		return models.Address{}, err
	}
	return signer, nil
}

// remember records a verified nonce until expiry. Entries past expiry can
// no longer pass the skew check, so they are pruned once the map fills up.
func (v *Verifier) remember(key string, expiry, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen == nil {
		v.seen = make(map[string]time.Time)
	}
	if until, ok := v.seen[key]; ok && !now.After(until) {
		return ErrReplayed
	}
	limit := v.MaxNonces
	if limit <= 0 {
		limit = DefaultMaxNonces
	}
	if len(v.seen) >= limit {
		for k, until := range v.seen {
			if now.After(until) {
				delete(v.seen, k)
			}
		}
		if len(v.seen) >= limit {
			return ErrNonceCacheFull
		}
	}
	v.seen[key] = expiry
	return nil
}

type callerKey struct{}

// WithCaller returns ctx carrying the verified caller.
func WithCaller(ctx context.Context, caller models.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the verified caller stored by Middleware.
func CallerFrom(ctx context.Context) (models.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(models.Address)
	return caller, ok
}

// Middleware requires a valid signature on every non-GET request and
// stores the signer in the request context. Reads are public.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := v.Verify(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": "Unauthenticated", "kind": "authentication"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
