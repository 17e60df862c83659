package domain

import (
	"time"
)

// Objective identifies a campaign objective on the advertising platform.
type Objective string

// EffectiveObjective is the only objective this product provisions campaigns
// with. Client-supplied objectives are accepted on the wire but never used;
// see ProvisioningRequest.RequestedObjective.
const EffectiveObjective Objective = "OUTCOME_TRAFFIC"

// CallToAction is the enumerated button label shown on an ad.
type CallToAction string

// Call-to-action values accepted by the platform for link ads.
const (
	CTALearnMore       CallToAction = "LEARN_MORE"
	CTAShopNow         CallToAction = "SHOP_NOW"
	CTAContactUs       CallToAction = "CONTACT_US"
	CTAOrderNow        CallToAction = "ORDER_NOW"
	CTABookTravel      CallToAction = "BOOK_TRAVEL"
	CTACallNow         CallToAction = "CALL_NOW"
	CTAGetDirections   CallToAction = "GET_DIRECTIONS"
	CTAMessagePage     CallToAction = "MESSAGE_PAGE"
	CTASignUp          CallToAction = "SIGN_UP"
	CTASubscribe       CallToAction = "SUBSCRIBE"
	CTAWhatsAppMessage CallToAction = "WHATSAPP_MESSAGE"
)

// DefaultCallToAction substitutes any missing or unrecognised CTA input.
const DefaultCallToAction = CTALearnMore

// AllowedCallToActions lists every CTA the normalizer passes through unchanged.
var AllowedCallToActions = []CallToAction{
	CTALearnMore,
	CTAShopNow,
	CTAContactUs,
	CTAOrderNow,
	CTABookTravel,
	CTACallNow,
	CTAGetDirections,
	CTAMessagePage,
	CTASignUp,
	CTASubscribe,
	CTAWhatsAppMessage,
}

// GeoTarget describes a custom-location radius target.
type GeoTarget struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

// CreativeSourceKind discriminates the two creative provisioning paths.
type CreativeSourceKind string

const (
	// CreativeSourceImage uploads a fresh image and builds a link-data creative.
	CreativeSourceImage CreativeSourceKind = "image"
	// CreativeSourceExistingPost promotes an already published social post.
	CreativeSourceExistingPost CreativeSourceKind = "existing_post"
)

// CreativeSource is a tagged union: exactly one of ImageFile or PostURL is
// populated depending on Kind.
type CreativeSource struct {
	Kind CreativeSourceKind

	// ImageFile is the local path of the uploaded temp file (image path only).
	ImageFile string

	// PostURL references an existing social post (existing-post path only).
	PostURL string
}

// ProvisioningRequest is the normalized, validated input to the campaign
// pipeline. It is built once per HTTP request and discarded afterwards; the
// remote platform objects are the only durable state.
type ProvisioningRequest struct {
	AdAccountID  string
	PageID       string
	CampaignName string

	// DailyBudgetMinorUnits is derived from the weekly budget in major
	// currency units via round(weekly / 7 * 100).
	DailyBudgetMinorUnits int64

	StartTime *time.Time
	EndTime   *time.Time

	Location GeoTarget

	CreativeSource CreativeSource

	AdDescription string
	AdTitle       string
	LinkURL       string

	CallToAction CallToAction

	// RequestedObjective preserves whatever the client sent. It is never
	// forwarded to the platform: EffectiveObjective always wins.
	RequestedObjective string
}

// ResolvedPostReference identifies an existing social post for creative use.
// Immutable once produced by the resolver.
type ResolvedPostReference struct {
	PageID string
	PostID string

	// ObjectStoryID is the composite pageId_postId handle the platform
	// expects when attaching an existing post as ad creative.
	ObjectStoryID string
}

// PipelineStage names the four sequential remote-object creation stages.
type PipelineStage string

const (
	StageCampaign PipelineStage = "campaign"
	StageAdSet    PipelineStage = "adset"
	StageCreative PipelineStage = "creative"
	StageAd       PipelineStage = "ad"
)

// PipelineResult accumulates platform identifiers as stages complete. On
// failure it is partially populated: everything created before the failing
// stage is reported so operators can clean up orphaned objects by hand.
type PipelineResult struct {
	CampaignID string
	AdSetID    string
	CreativeID string
	AdID       string
	// Status is the delivery status every object was created with. Set only
	// once the final stage completes.
	Status string
}

// CreatedIDs returns the non-empty identifiers keyed by object name,
// suitable for embedding in an error payload.
func (r PipelineResult) CreatedIDs() map[string]string {
	ids := make(map[string]string, 4)
	if r.CampaignID != "" {
		ids["campaignId"] = r.CampaignID
	}
	if r.AdSetID != "" {
		ids["adSetId"] = r.AdSetID
	}
	if r.CreativeID != "" {
		ids["creativeId"] = r.CreativeID
	}
	if r.AdID != "" {
		ids["adId"] = r.AdID
	}
	return ids
}

// Complete reports whether every stage produced an identifier.
func (r PipelineResult) Complete() bool {
	return r.CampaignID != "" && r.AdSetID != "" && r.CreativeID != "" && r.AdID != ""
}

// CampaignRecord is the denormalized summary cached locally after a
// successful provisioning run, used to enrich campaign listings.
type CampaignRecord struct {
	ID           string
	AdAccountID  string
	CampaignID   string
	AdSetID      string
	CreativeID   string
	AdID         string
	Name         string
	Status       string
	DailyBudget  int64
	CreatedAt    time.Time
	CreatedByUID string
}

// CampaignSummary is the listing row merged from the local cache and the
// live upstream listing. Local entries win on id collision.
type CampaignSummary struct {
	CampaignID  string    `json:"campaignId"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	DailyBudget int64     `json:"dailyBudget,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	Source      string    `json:"source"`
}
