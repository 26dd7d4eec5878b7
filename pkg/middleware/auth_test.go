package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticVerifier maps raw tokens to subjects.
type staticVerifier map[string]string

func (v staticVerifier) Verify(_ context.Context, raw string) (string, error) {
	if sub, ok := v[raw]; ok {
		return sub, nil
	}
	return "", errors.New("signature mismatch")
}

func TestAuthenticator(t *testing.T) {
	w := storetest.NewWorld(t)
	verifier := staticVerifier{"good": "member-a", "stranger": "not-enrolled"}

	var got authz.Caller
	var principalID string
	next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		got = authz.CallerFrom(r.Context())
		principalID = contextkeys.GetPrincipalID(r.Context())
		rw.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		header   string
		optional bool
		status   int
	}{
		{"valid token", "Bearer good", false, http.StatusNoContent},
		{"lowercase scheme", "bearer good", false, http.StatusNoContent},
		{"missing header", "", false, http.StatusUnauthorized},
		{"missing header optional", "", true, http.StatusNoContent},
		{"wrong scheme", "Basic Zm9vOmJhcg==", false, http.StatusUnauthorized},
		{"bad token", "Bearer forged", false, http.StatusUnauthorized},
		{"bad token optional", "Bearer forged", true, http.StatusUnauthorized},
		{"not enrolled", "Bearer stranger", false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, principalID = authz.Caller{}, ""
			auth := NewAuthenticator(w.Store, verifier, false, nil)
			if tt.optional {
				auth = auth.Optional()
			}

			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			auth.Handler(next).ServeHTTP(rec, r)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusNoContent {
				return
			}
			if tt.header == "" {
				assert.True(t, got.IsAnonymous())
				assert.Empty(t, principalID)
				return
			}
			assert.Equal(t, w.MemberA.ID, got.PrincipalID)
			assert.Equal(t, w.MemberA.ID.String(), principalID)
		})
	}
}

func TestRequireHookSecret(t *testing.T) {
	ok := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusAccepted)
	})

	tests := []struct {
		name   string
		secret string
		sent   string
		status int
	}{
		{"match", "s3cret", "s3cret", http.StatusAccepted},
		{"mismatch", "s3cret", "guess", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/hooks/identity-created", nil)
			if tt.sent != "" {
				r.Header.Set(HookSecretHeader, tt.sent)
			}
			rec := httptest.NewRecorder()
			RequireHookSecret(tt.secret)(ok).ServeHTTP(rec, r)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}
