package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/secretmanager/config"
	"github.com/upb/secretmanager/models"
)

const testRealm = "secret-manager"

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey
}

type realmServer struct {
	*httptest.Server
	fetches atomic.Int32
}

// newRealmServer serves the realm certs endpoint for the given key
func newRealmServer(t *testing.T, publicKey *rsa.PublicKey, kid string) *realmServer {
	t.Helper()
	rs := &realmServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/"+testRealm+"/protocol/openid-connect/certs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rs.fetches.Add(1)
		jwks := JWKS{Keys: []JWK{{
			Kid: kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func testConfig(baseURL string) config.KeycloakConfig {
	return config.KeycloakConfig{
		URL:          baseURL,
		Realm:        testRealm,
		ClientID:     "secret-manager",
		JWKSCacheTTL: time.Hour,
		HTTPTimeout:  5 * time.Second,
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func baseClaims(issuer string) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "0b6f7c1e-sub",
			Audience:  jwt.ClaimStrings{"account"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		PreferredUsername: "alice",
		Email:             "alice@example.com",
		AuthorizedParty:   "secret-manager",
		RealmAccess:       RoleSet{Roles: []string{"offline_access", "approver"}},
	}
}

func TestValidator_ValidateToken(t *testing.T) {
	key := generateTestKeyPair(t)
	srv := newRealmServer(t, &key.PublicKey, "kid-1")
	cfg := testConfig(srv.URL)
	issuer := cfg.IssuerURL()

	tests := []struct {
		name    string
		mutate  func(c *Claims)
		kid     string
		wantErr error
		check   func(t *testing.T, id *models.Identity)
	}{
		{
			name: "valid approver token",
			kid:  "kid-1",
			check: func(t *testing.T, id *models.Identity) {
				assert.Equal(t, "0b6f7c1e-sub", id.SubjectID)
				assert.Equal(t, "alice", id.Username)
				assert.Equal(t, "alice@example.com", id.Email)
				assert.Equal(t, models.RoleApprover, id.Role)
			},
		},
		{
			name: "realm-admin from realm-management client",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.RealmAccess.Roles = nil
				c.ResourceAccess = map[string]RoleSet{realmManagementClient: {Roles: []string{"realm-admin"}}}
			},
			check: func(t *testing.T, id *models.Identity) {
				assert.Equal(t, models.RoleAdmin, id.Role)
			},
		},
		{
			name: "client role counts",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.RealmAccess.Roles = nil
				c.ResourceAccess = map[string]RoleSet{"secret-manager": {Roles: []string{"admin"}}}
			},
			check: func(t *testing.T, id *models.Identity) {
				assert.Equal(t, models.RoleAdmin, id.Role)
			},
		},
		{
			name: "audience match without azp",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.AuthorizedParty = "other"
				c.Audience = jwt.ClaimStrings{"secret-manager"}
			},
			check: func(t *testing.T, id *models.Identity) {
				assert.Equal(t, "alice", id.Username)
			},
		},
		{
			name: "username falls back to subject",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.PreferredUsername = ""
			},
			check: func(t *testing.T, id *models.Identity) {
				assert.Equal(t, "0b6f7c1e-sub", id.Username)
			},
		},
		{
			name: "expired",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "wrong issuer",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.Issuer = "https://evil.example.com/realms/" + testRealm
			},
			wantErr: ErrInvalidIssuer,
		},
		{
			name: "foreign client",
			kid:  "kid-1",
			mutate: func(c *Claims) {
				c.AuthorizedParty = "other"
			},
			wantErr: ErrInvalidAudience,
		},
		{
			name:    "unknown kid",
			kid:     "kid-2",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(cfg)
			claims := baseClaims(issuer)
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			token := signToken(t, key, tt.kid, claims)

			id, err := v.ValidateToken(context.Background(), token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, id)
		})
	}
}

func TestValidator_RejectsOtherKey(t *testing.T) {
	key := generateTestKeyPair(t)
	other := generateTestKeyPair(t)
	srv := newRealmServer(t, &key.PublicKey, "kid-1")
	cfg := testConfig(srv.URL)

	token := signToken(t, other, "kid-1", baseClaims(cfg.IssuerURL()))
	_, err := NewValidator(cfg).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewValidator(cfg).ValidateToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_CachesJWKS(t *testing.T) {
	key := generateTestKeyPair(t)
	srv := newRealmServer(t, &key.PublicKey, "kid-1")
	cfg := testConfig(srv.URL)
	v := NewValidator(cfg)

	for i := 0; i < 3; i++ {
		_, err := v.ValidateToken(context.Background(), signToken(t, key, "kid-1", baseClaims(cfg.IssuerURL())))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.fetches.Load())

	require.NoError(t, v.HealthCheck(context.Background()))

	v.InvalidateCache()
	require.NoError(t, v.HealthCheck(context.Background()))
	assert.Equal(t, int32(2), srv.fetches.Load())
}

func TestValidator_HealthCheckFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewValidator(testConfig(srv.URL)).HealthCheck(context.Background())
	assert.True(t, errors.Is(err, ErrJWKSFetchFailed))
}

func TestTokenExchanger_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/realms/"+testRealm+"/protocol/openid-connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "s3cr3t", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","id_token":"it","token_type":"Bearer","expires_in":300}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.ClientSecret = "s3cr3t"
	ex := NewTokenExchanger(cfg)

	token, err := ex.ExchangeCode(context.Background(), "good", "http://localhost:3000/auth/callback")
	require.NoError(t, err)
	assert.Equal(t, "at", token)

	_, err = ex.ExchangeCode(context.Background(), "bad", "http://localhost:3000/auth/callback")
	assert.Error(t, err)

	_, err = NewTokenExchanger(config.KeycloakConfig{}).ExchangeCode(context.Background(), "good", "")
	assert.Error(t, err)
}

func TestURLs(t *testing.T) {
	cfg := config.KeycloakConfig{
		URL:         "https://sso.example.com/",
		Realm:       "corp",
		ClientID:    "secret-manager",
		RedirectURI: "https://app.example.com/auth/callback",
		FrontEndURL: "https://app.example.com",
	}

	auth, err := url.Parse(AuthURL(cfg, "xyz"))
	require.NoError(t, err)
	assert.Equal(t, "/realms/corp/protocol/openid-connect/auth", auth.Path)
	assert.Equal(t, "xyz", auth.Query().Get("state"))
	assert.Equal(t, "code", auth.Query().Get("response_type"))
	assert.Equal(t, cfg.RedirectURI, auth.Query().Get("redirect_uri"))

	logout := LogoutURL(cfg)
	assert.True(t, strings.HasPrefix(logout, "https://sso.example.com/realms/corp/protocol/openid-connect/logout?"))
	assert.Contains(t, logout, url.QueryEscape(cfg.FrontEndURL))
}
