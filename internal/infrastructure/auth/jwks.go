package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet caches the RSA keys published at a JWKS endpoint. An unknown kid
// triggers a refetch, at most once per minRefresh.
type keySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefresh time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeySet(url string, ttl time.Duration) *keySet {
	return &keySet{
		url:        url,
		client:     &http.Client{Timeout: 5 * time.Second},
		ttl:        ttl,
		minRefresh: 30 * time.Second,
		keys:       map[string]*rsa.PublicKey{},
	}
}

func (s *keySet) lookup(kid string) (*rsa.PublicKey, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[kid]
	age := time.Since(s.fetchedAt)
	return key, ok && age < s.ttl, age >= s.minRefresh
}

func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, fresh, mayRefresh := s.lookup(kid)
	if fresh {
		return key, nil
	}
	if !mayRefresh {
		if key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("signing key %q not published", kid)
	}
	if err := s.fetch(ctx); err != nil {
		if key != nil {
			return key, nil
		}
		return nil, err
	}
	key, _, _ = s.lookup(kid)
	if key == nil {
		return nil, fmt.Errorf("signing key %q not published", kid)
	}
	return key, nil
}

func (s *keySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var parsed struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(parsed.Keys))
	for _, k := range parsed.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks has no usable RSA keys")
	}
	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func rsaFromJWK(nB64, eB64 string) (*rsa.PublicKey, error) {
	nRaw, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eRaw, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eRaw)
	if e.Sign() == 0 || !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nRaw), E: int(e.Int64())}, nil
}
