package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pfirestore "github.com/tablebuzz/api/internal/platform/firestore"
	"github.com/tablebuzz/api/internal/repositories"
)

const platformConnectionDocPattern = "users/%s/connections/meta"

// TokenRepository reads the caller's platform credentials from the connected
// account document written during ad-account onboarding (out of scope here).
type TokenRepository struct {
	provider *pfirestore.Provider
}

// NewTokenRepository constructs a Firestore-backed token store.
func NewTokenRepository(provider *pfirestore.Provider) (*TokenRepository, error) {
	if provider == nil {
		return nil, errors.New("token repository requires firestore provider")
	}
	return &TokenRepository{provider: provider}, nil
}

type platformConnectionDocument struct {
	AccessToken string            `firestore:"accessToken"`
	PageTokens  map[string]string `firestore:"pageTokens"`
}

// AccessToken returns the user's account-level platform token.
func (r *TokenRepository) AccessToken(ctx context.Context, userID string) (string, error) {
	doc, err := r.connection(ctx, userID)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(doc.AccessToken)
	if token == "" {
		return "", repositories.ErrTokenNotFound
	}
	return token, nil
}

// PageToken returns the page-scoped token for the given page. Falls back to
// the account-level token when no page-scoped token was stored, matching the
// platform's behaviour for pages administered by the token owner.
func (r *TokenRepository) PageToken(ctx context.Context, userID, pageID string) (string, error) {
	doc, err := r.connection(ctx, userID)
	if err != nil {
		return "", err
	}
	if token := strings.TrimSpace(doc.PageTokens[strings.TrimSpace(pageID)]); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(doc.AccessToken); token != "" {
		return token, nil
	}
	return "", repositories.ErrTokenNotFound
}

func (r *TokenRepository) connection(ctx context.Context, userID string) (platformConnectionDocument, error) {
	if r == nil || r.provider == nil {
		return platformConnectionDocument{}, errors.New("token repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return platformConnectionDocument{}, errors.New("token repository: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return platformConnectionDocument{}, err
	}

	snap, err := client.Doc(fmt.Sprintf(platformConnectionDocPattern, userID)).Get(ctx)
	if err != nil {
		wrapped := pfirestore.WrapError("tokens.get", err)
		var repoErr repositories.RepositoryError
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return platformConnectionDocument{}, repositories.ErrTokenNotFound
		}
		return platformConnectionDocument{}, wrapped
	}

	var doc platformConnectionDocument
	if err := snap.DataTo(&doc); err != nil {
		return platformConnectionDocument{}, fmt.Errorf("tokens.get: decode document: %w", err)
	}
	return doc, nil
}
