package session

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/confscout/go-client/identity"
	clienterrors "github.com/confscout/go-client/internal/errors"
)

// ProviderFlow drives the external redirect-based sign-in against a
// third-party identity provider. The manager's return URL mechanism
// exists for exactly this flow: the URL the user meant to visit is
// captured before the redirect and resolved after the code exchange.
type ProviderFlow struct {
	manager      *Manager
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier

	lock   sync.Mutex
	states map[string]string // state -> return URL
}

// NewProviderFlow discovers the issuer's endpoints and prepares the flow.
func NewProviderFlow(ctx context.Context, manager *Manager, issuer, clientID, clientSecret, redirectURL string) (*ProviderFlow, error) {
	if manager == nil {
		return nil, errors.New("[NewProviderFlow] manager is required")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[NewProviderFlow] provider discovery")
	}

	return &ProviderFlow{
		manager: manager,
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		states:   make(map[string]string),
	}, nil
}

// Begin returns the provider authorization URL. returnURL is where the
// completed sign-in should land; it rides on the state parameter's
// server-side record, never on the URL itself.
func (p *ProviderFlow) Begin(returnURL string) (string, error) {
	state := uuid.NewString()

	p.lock.Lock()
	p.states[state] = returnURL
	p.lock.Unlock()

	p.manager.SetReturnURL(returnURL)
	return p.oauth2Config.AuthCodeURL(state), nil
}

// Complete validates the redirect's state, exchanges the code, verifies
// the ID token, and adopts the resulting identity into the session. It
// returns the return URL to navigate to.
func (p *ProviderFlow) Complete(ctx context.Context, state, code string) (string, error) {
	p.lock.Lock()
	_, known := p.states[state]
	delete(p.states, state)
	p.lock.Unlock()

	if !known {
		return "", clienterrors.Wrapf(clienterrors.ErrValidation, "[ProviderFlow.Complete] unknown state")
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", errors.Wrap(err, "[ProviderFlow.Complete] code exchange")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", clienterrors.Wrapf(clienterrors.ErrValidation, "[ProviderFlow.Complete] response missing id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", errors.Wrap(err, "[ProviderFlow.Complete] verifying id token")
	}

	var claims struct {
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", errors.Wrap(err, "[ProviderFlow.Complete] decoding claims")
	}

	ident := &identity.Identity{
		ID:        idToken.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Role:      identity.RoleMember,
	}
	return p.manager.AdoptExternal(ident, token.AccessToken)
}
