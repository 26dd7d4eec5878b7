package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// TokenVerifier checks a bearer token and returns the identity subject it
// was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys and returns a verifier for
// tokens minted for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewOIDCVerifierFromKeySet builds a verifier against a fixed key set,
// skipping discovery.
func NewOIDCVerifierFromKeySet(issuer, clientID string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID})}
}

// Verify implements TokenVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}
	return token.Subject, nil
}

// Authenticator maps a verified bearer token to the enrolled principal and
// attaches the resulting authz.Caller to the request context.
type Authenticator struct {
	store    store.Store
	verifier TokenVerifier
	optional bool // If true, requests without a token continue as anonymous
	logger   *observability.Logger
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(s store.Store, verifier TokenVerifier, optional bool, logger *observability.Logger) *Authenticator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authenticator{
		store:    s,
		verifier: verifier,
		optional: optional,
		logger:   logger,
	}
}

// Optional returns a copy of a that lets unauthenticated requests through
// as the anonymous caller.
func (a *Authenticator) Optional() *Authenticator {
	cp := *a
	cp.optional = true
	return &cp
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authz.WithRequestCache(r.Context())

		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if a.optional {
				next.ServeHTTP(w, r.WithContext(authz.WithCaller(ctx, authz.Anonymous)))
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		subject, err := a.verifier.Verify(ctx, parts[1])
		if err != nil {
			a.logger.WithError(err).Debug("Bearer token rejected")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		principal, err := a.lookup(ctx, subject)
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteUnauthorized(w, "identity is not enrolled")
			return
		}
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		caller := authz.PrincipalCaller(principal.ID)
		ctx = authz.WithCaller(ctx, caller)
		ctx = contextkeys.WithPrincipalID(ctx, principal.ID.String())
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx).WithField("principal_id", principal.ID.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) lookup(ctx context.Context, subject string) (*models.Principal, error) {
	var principal *models.Principal
	err := a.store.View(ctx, func(tx store.Tx) error {
		p, err := tx.GetPrincipalByIdentity(ctx, subject)
		if err != nil {
			return err
		}
		principal = p
		return nil
	})
	return principal, err
}
