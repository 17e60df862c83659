package repositories

import (
	"context"
	"errors"

	"github.com/tablebuzz/api/internal/domain"
)

// ErrTokenNotFound indicates the user has no platform token on record,
// meaning the ad account was never connected (or the connection was revoked).
var ErrTokenNotFound = errors.New("token store: platform token not found")

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CampaignCacheRepository is the append-only cache of provisioned campaign
// summaries, keyed by ad account. Listing merges these local entries with the
// live upstream listing; implementations must be safe for concurrent use.
type CampaignCacheRepository interface {
	Append(ctx context.Context, accountID string, record domain.CampaignRecord) error
	List(ctx context.Context, accountID string) ([]domain.CampaignRecord, error)
}

// TokenStore supplies the caller's platform credentials. Connecting the ad
// account (and persisting the tokens) happens elsewhere; the pipeline only
// reads them.
type TokenStore interface {
	// AccessToken returns the user's account-level platform token.
	AccessToken(ctx context.Context, userID string) (string, error)
	// PageToken returns the page-scoped token for the given page.
	PageToken(ctx context.Context, userID, pageID string) (string, error)
}
