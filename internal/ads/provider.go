package ads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPostNotResolvable indicates the platform could not map a URL to a post id.
var ErrPostNotResolvable = errors.New("ads: post url could not be resolved")

// PlatformError preserves the raw error body returned by the advertising
// platform so failures can be diagnosed without re-running the pipeline.
type PlatformError struct {
	Status  int
	Code    int
	Subcode int
	Type    string
	Message string
	TraceID string
	Raw     string
}

// Error implements the error interface.
func (e *PlatformError) Error() string {
	if e == nil {
		return "ads: platform error"
	}
	return fmt.Sprintf("ads: platform error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

// IsPermissionDenied reports whether the platform rejected the call for
// missing permissions, which some flows treat as inconclusive rather than fatal.
func (e *PlatformError) IsPermissionDenied() bool {
	if e == nil {
		return false
	}
	return e.Status == 403 || e.Code == 10 || e.Code == 200 || e.Code == 283
}

// CampaignParams describes the campaign creation call.
type CampaignParams struct {
	AdAccountID string
	Name        string
	Objective   string
	Status      string
	AccessToken string
}

// AdSetParams describes the ad set creation call.
type AdSetParams struct {
	AdAccountID      string
	CampaignID       string
	Name             string
	DailyBudget      int64
	BillingEvent     string
	OptimizationGoal string
	BidStrategy      string
	Latitude         float64
	Longitude        float64
	RadiusKm         float64
	StartTime        *time.Time
	EndTime          *time.Time
	AccessToken      string
}

// LinkData carries the link-creative payload for freshly uploaded images.
type LinkData struct {
	Message      string
	Link         string
	Title        string
	ImageHash    string
	CallToAction string
}

// CreativeParams describes the creative creation call. Exactly one of
// ObjectStoryID and Link is populated; the platform rejects both together.
type CreativeParams struct {
	AdAccountID   string
	PageID        string
	Name          string
	ObjectStoryID string
	Link          *LinkData

	// PageAccessToken scopes the call to the page, distinct from the
	// caller's account-level token.
	PageAccessToken string
}

// AdParams describes the ad creation call referencing earlier stage outputs.
type AdParams struct {
	AdAccountID string
	Name        string
	AdSetID     string
	CreativeID  string
	Status      string
	AccessToken string
}

// ImageUploadParams describes the multipart image upload call.
type ImageUploadParams struct {
	AdAccountID string
	FileName    string
	FilePath    string
	AccessToken string
}

// PostMetadata captures the existence/visibility check result for a post.
type PostMetadata struct {
	ID        string
	Published bool
}

// CampaignListing is one row of the upstream campaign listing.
type CampaignListing struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Provider is the stateless client surface over the advertising platform's
// creation and auxiliary endpoints. Implementations must be safe for
// concurrent use.
type Provider interface {
	CreateCampaign(ctx context.Context, params CampaignParams) (string, error)
	CreateAdSet(ctx context.Context, params AdSetParams) (string, error)
	CreateCreative(ctx context.Context, params CreativeParams) (string, error)
	CreateAd(ctx context.Context, params AdParams) (string, error)

	UploadImage(ctx context.Context, params ImageUploadParams) (string, error)
	LookupPostID(ctx context.Context, postURL, accessToken string) (string, error)
	GetPostMetadata(ctx context.Context, objectStoryID, accessToken string) (PostMetadata, error)
	ListCampaigns(ctx context.Context, adAccountID, accessToken string) ([]CampaignListing, error)
}

func normalizeAccountID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "act_") {
		return id
	}
	return "act_" + id
}
