package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tablebuzz/api/internal/ads"
	"github.com/tablebuzz/api/internal/domain"
	"github.com/tablebuzz/api/internal/repositories"
)

// Fixed delivery settings applied to every provisioned campaign. These mirror
// the only configuration the product sells; none are client-controllable.
const (
	creationStatus   = "ACTIVE"
	billingEvent     = "IMPRESSIONS"
	optimizationGoal = "LINK_CLICKS"
	bidStrategy      = "LOWEST_COST_WITHOUT_CAP"
)

// Listing source labels distinguishing cached rows from live platform rows.
const (
	sourceLocal    = "local"
	sourceUpstream = "platform"
)

// ProvisioningLogger defines the logging contract for pipeline operations.
type ProvisioningLogger func(ctx context.Context, event string, fields map[string]any)

// ProvisioningServiceDeps bundles the dependencies required to construct the
// provisioning service.
type ProvisioningServiceDeps struct {
	Provider ads.Provider
	Preparer *CreativePreparer
	Tokens   repositories.TokenStore
	Cache    repositories.CampaignCacheRepository
	Events   EventPublisher
	Clock    func() time.Time
	IDGen    func() string
	Logger   ProvisioningLogger
}

type provisioningService struct {
	provider ads.Provider
	preparer *CreativePreparer
	tokens   repositories.TokenStore
	cache    repositories.CampaignCacheRepository
	events   EventPublisher
	clock    func() time.Time
	idGen    func() string
	logger   ProvisioningLogger
}

// NewProvisioningService validates dependencies and returns a ready service.
// Events may be nil when no publisher is configured.
func NewProvisioningService(deps ProvisioningServiceDeps) (ProvisioningService, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("services: provisioning service requires provider")
	}
	if deps.Preparer == nil {
		return nil, fmt.Errorf("services: provisioning service requires creative preparer")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("services: provisioning service requires token store")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("services: provisioning service requires campaign cache")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return "" }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &provisioningService{
		provider: deps.Provider,
		preparer: deps.Preparer,
		tokens:   deps.Tokens,
		cache:    deps.Cache,
		events:   deps.Events,
		clock:    func() time.Time { return clock().UTC() },
		idGen:    idGen,
		logger:   logger,
	}, nil
}

// Provision runs the four creation stages strictly in order. There is no
// rollback: a failure stops the pipeline and reports everything created so
// far, because deleting half-provisioned platform objects automatically has
// burned people before (the platform sometimes re-creates deleted campaigns
// asynchronously). Operators clean up from the reported ids.
func (s *provisioningService) Provision(ctx context.Context, cmd ProvisionCommand) (PipelineResult, error) {
	var result PipelineResult

	req := cmd.Request
	accessToken, err := s.tokens.AccessToken(ctx, cmd.UserID)
	if err != nil {
		return result, fmt.Errorf("services: load access token: %w", err)
	}
	pageToken, err := s.tokens.PageToken(ctx, cmd.UserID, req.PageID)
	if err != nil {
		return result, fmt.Errorf("services: load page token: %w", err)
	}

	campaignID, err := s.provider.CreateCampaign(ctx, ads.CampaignParams{
		AdAccountID: req.AdAccountID,
		Name:        req.CampaignName,
		Objective:   string(domain.EffectiveObjective),
		Status:      creationStatus,
		AccessToken: accessToken,
	})
	if err != nil {
		return result, s.stageFailure(ctx, domain.StageCampaign, result, err)
	}
	result.CampaignID = campaignID

	adSetID, err := s.provider.CreateAdSet(ctx, ads.AdSetParams{
		AdAccountID:      req.AdAccountID,
		CampaignID:       campaignID,
		Name:             req.CampaignName + " - ad set",
		DailyBudget:      req.DailyBudgetMinorUnits,
		BillingEvent:     billingEvent,
		OptimizationGoal: optimizationGoal,
		BidStrategy:      bidStrategy,
		Latitude:         req.Location.Latitude,
		Longitude:        req.Location.Longitude,
		RadiusKm:         req.Location.RadiusKm,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		AccessToken:      accessToken,
	})
	if err != nil {
		return result, s.stageFailure(ctx, domain.StageAdSet, result, err)
	}
	result.AdSetID = adSetID

	creativeParams, err := s.preparer.Prepare(ctx, req, CreativeTokens{
		AccessToken:     accessToken,
		PageAccessToken: pageToken,
	})
	if err != nil {
		return result, s.stageFailure(ctx, domain.StageCreative, result, err)
	}
	creativeID, err := s.provider.CreateCreative(ctx, creativeParams)
	if err != nil {
		return result, s.stageFailure(ctx, domain.StageCreative, result, err)
	}
	result.CreativeID = creativeID

	adID, err := s.provider.CreateAd(ctx, ads.AdParams{
		AdAccountID: req.AdAccountID,
		Name:        req.CampaignName + " - ad",
		AdSetID:     adSetID,
		CreativeID:  creativeID,
		Status:      creationStatus,
		AccessToken: accessToken,
	})
	if err != nil {
		return result, s.stageFailure(ctx, domain.StageAd, result, err)
	}
	result.AdID = adID
	result.Status = creationStatus

	s.logger(ctx, "services.provision.completed", map[string]any{
		"adAccountId": req.AdAccountID,
		"campaignId":  result.CampaignID,
		"adId":        result.AdID,
	})

	s.cacheRecord(ctx, cmd, result)
	s.publishEvent(ctx, cmd, result)
	return result, nil
}

// stageFailure wraps a stage error with the partial result and logs it.
func (s *provisioningService) stageFailure(ctx context.Context, stage domain.PipelineStage, result PipelineResult, err error) error {
	s.logger(ctx, "services.provision.stage_failed", map[string]any{
		"stage":      string(stage),
		"createdIds": result.CreatedIDs(),
		"error":      err.Error(),
	})
	return &PipelineError{Stage: stage, Result: result, Err: err}
}

// cacheRecord appends the campaign summary to the local cache. Cache failure
// never fails the request: the platform objects exist either way and the
// listing endpoint can still serve them from upstream.
func (s *provisioningService) cacheRecord(ctx context.Context, cmd ProvisionCommand, result PipelineResult) {
	record := domain.CampaignRecord{
		ID:           s.idGen(),
		AdAccountID:  cmd.Request.AdAccountID,
		CampaignID:   result.CampaignID,
		AdSetID:      result.AdSetID,
		CreativeID:   result.CreativeID,
		AdID:         result.AdID,
		Name:         cmd.Request.CampaignName,
		Status:       creationStatus,
		DailyBudget:  cmd.Request.DailyBudgetMinorUnits,
		CreatedAt:    s.clock(),
		CreatedByUID: cmd.UserID,
	}
	if err := s.cache.Append(ctx, cmd.Request.AdAccountID, record); err != nil {
		s.logger(ctx, "services.provision.cache_append_failed", map[string]any{
			"campaignId": result.CampaignID,
			"error":      err.Error(),
		})
	}
}

// publishEvent emits the provisioned event when a publisher is configured.
// Publish failure is logged and swallowed for the same reason as cache failure.
func (s *provisioningService) publishEvent(ctx context.Context, cmd ProvisionCommand, result PipelineResult) {
	if s.events == nil {
		return
	}
	event := CampaignProvisionedEvent{
		AdAccountID: cmd.Request.AdAccountID,
		CampaignID:  result.CampaignID,
		AdSetID:     result.AdSetID,
		CreativeID:  result.CreativeID,
		AdID:        result.AdID,
		Name:        cmd.Request.CampaignName,
		CreatedBy:   cmd.UserID,
	}
	if _, err := s.events.PublishCampaignProvisioned(ctx, event); err != nil {
		s.logger(ctx, "services.provision.event_publish_failed", map[string]any{
			"campaignId": result.CampaignID,
			"error":      err.Error(),
		})
	}
}

// ListCampaigns merges the local cache with the live upstream listing. Rows
// sharing a campaign id collapse to the local version, which carries budget
// and authorship details the upstream listing lacks. An upstream failure
// degrades to cache-only rather than failing the request.
func (s *provisioningService) ListCampaigns(ctx context.Context, cmd ListCampaignsCommand) ([]CampaignSummary, error) {
	local, err := s.cache.List(ctx, cmd.AdAccountID)
	if err != nil {
		return nil, fmt.Errorf("services: list cached campaigns: %w", err)
	}

	summaries := make([]CampaignSummary, 0, len(local))
	seen := make(map[string]struct{}, len(local))
	for _, record := range local {
		summaries = append(summaries, CampaignSummary{
			CampaignID:  record.CampaignID,
			Name:        record.Name,
			Status:      record.Status,
			DailyBudget: record.DailyBudget,
			CreatedAt:   record.CreatedAt,
			Source:      sourceLocal,
		})
		seen[record.CampaignID] = struct{}{}
	}

	accessToken, err := s.tokens.AccessToken(ctx, cmd.UserID)
	if err != nil {
		s.logger(ctx, "services.list.token_unavailable", map[string]any{
			"adAccountId": cmd.AdAccountID,
			"error":       err.Error(),
		})
		return summaries, nil
	}

	upstream, err := s.provider.ListCampaigns(ctx, cmd.AdAccountID, accessToken)
	if err != nil {
		s.logger(ctx, "services.list.upstream_failed", map[string]any{
			"adAccountId": cmd.AdAccountID,
			"error":       err.Error(),
		})
		return summaries, nil
	}

	for _, row := range upstream {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		summaries = append(summaries, CampaignSummary{
			CampaignID: row.ID,
			Name:       row.Name,
			Status:     row.Status,
			CreatedAt:  row.CreatedAt,
			Source:     sourceUpstream,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}
