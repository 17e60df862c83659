package ads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultGraphVersion = "v19.0"
	defaultCallTimeout  = 8 * time.Second
)

// GraphLogger defines the logging contract for Graph provider operations.
type GraphLogger func(ctx context.Context, event string, fields map[string]any)

// GraphProviderConfig configures the GraphProvider.
type GraphProviderConfig struct {
	BaseURL     string
	Version     string
	HTTPClient  *http.Client
	CallTimeout time.Duration
	Logger      GraphLogger
	Clock       func() time.Time
}

// GraphProvider implements Provider against the Meta Graph REST API.
type GraphProvider struct {
	base        string
	version     string
	client      *http.Client
	callTimeout time.Duration
	logger      GraphLogger
	clock       func() time.Time
}

// NewGraphProvider constructs a GraphProvider using the given configuration.
func NewGraphProvider(cfg GraphProviderConfig) (*GraphProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultGraphBaseURL
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultGraphVersion
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &GraphProvider{
		base:        base,
		version:     version,
		client:      client,
		callTimeout: timeout,
		logger:      logger,
		clock:       clock,
	}, nil
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateCampaign creates a campaign on the platform and returns its id.
func (p *GraphProvider) CreateCampaign(ctx context.Context, params CampaignParams) (string, error) {
	if p == nil {
		return "", errors.New("ads: provider is nil")
	}

	form := url.Values{}
	form.Set("name", params.Name)
	form.Set("objective", params.Objective)
	form.Set("status", params.Status)
	form.Set("special_ad_categories", "[]")
	form.Set("access_token", params.AccessToken)

	var out idResponse
	if err := p.postForm(ctx, p.edge(normalizeAccountID(params.AdAccountID), "campaigns"), form, &out); err != nil {
		return "", fmt.Errorf("ads: create campaign: %w", err)
	}

	p.logger(ctx, "ads.graph.campaign.created", map[string]any{
		"campaignId": out.ID,
		"adAccount":  normalizeAccountID(params.AdAccountID),
	})
	return out.ID, nil
}

// CreateAdSet creates an ad set referencing the campaign id.
func (p *GraphProvider) CreateAdSet(ctx context.Context, params AdSetParams) (string, error) {
	if p == nil {
		return "", errors.New("ads: provider is nil")
	}

	targeting := map[string]any{
		"geo_locations": map[string]any{
			"custom_locations": []map[string]any{
				{
					"latitude":      params.Latitude,
					"longitude":     params.Longitude,
					"radius":        params.RadiusKm,
					"distance_unit": "kilometer",
				},
			},
		},
	}
	targetingJSON, err := json.Marshal(targeting)
	if err != nil {
		return "", fmt.Errorf("ads: encode targeting: %w", err)
	}

	form := url.Values{}
	form.Set("name", params.Name)
	form.Set("campaign_id", params.CampaignID)
	form.Set("daily_budget", strconv.FormatInt(params.DailyBudget, 10))
	form.Set("billing_event", params.BillingEvent)
	form.Set("optimization_goal", params.OptimizationGoal)
	form.Set("bid_strategy", params.BidStrategy)
	form.Set("targeting", string(targetingJSON))
	if params.StartTime != nil {
		form.Set("start_time", params.StartTime.UTC().Format(time.RFC3339))
	}
	if params.EndTime != nil {
		form.Set("end_time", params.EndTime.UTC().Format(time.RFC3339))
	}
	form.Set("access_token", params.AccessToken)

	var out idResponse
	if err := p.postForm(ctx, p.edge(normalizeAccountID(params.AdAccountID), "adsets"), form, &out); err != nil {
		return "", fmt.Errorf("ads: create ad set: %w", err)
	}

	p.logger(ctx, "ads.graph.adset.created", map[string]any{
		"adSetId":    out.ID,
		"campaignId": params.CampaignID,
	})
	return out.ID, nil
}

// CreateCreative creates an ad creative, scoped to the page token.
func (p *GraphProvider) CreateCreative(ctx context.Context, params CreativeParams) (string, error) {
	if p == nil {
		return "", errors.New("ads: provider is nil")
	}
	if params.ObjectStoryID != "" && params.Link != nil {
		return "", errors.New("ads: creative cannot carry both object story and link data")
	}

	form := url.Values{}
	form.Set("name", params.Name)
	switch {
	case params.ObjectStoryID != "":
		form.Set("object_story_id", params.ObjectStoryID)
	case params.Link != nil:
		linkData := map[string]any{
			"message":    params.Link.Message,
			"link":       params.Link.Link,
			"image_hash": params.Link.ImageHash,
		}
		if params.Link.Title != "" {
			linkData["name"] = params.Link.Title
		}
		if params.Link.CallToAction != "" {
			linkData["call_to_action"] = map[string]any{"type": params.Link.CallToAction}
		}
		spec := map[string]any{
			"page_id":   params.PageID,
			"link_data": linkData,
		}
		specJSON, err := json.Marshal(spec)
		if err != nil {
			return "", fmt.Errorf("ads: encode object story spec: %w", err)
		}
		form.Set("object_story_spec", string(specJSON))
	default:
		return "", errors.New("ads: creative requires an object story or link data")
	}
	form.Set("access_token", params.PageAccessToken)

	var out idResponse
	if err := p.postForm(ctx, p.edge(normalizeAccountID(params.AdAccountID), "adcreatives"), form, &out); err != nil {
		return "", fmt.Errorf("ads: create creative: %w", err)
	}

	p.logger(ctx, "ads.graph.creative.created", map[string]any{
		"creativeId": out.ID,
		"pageId":     params.PageID,
	})
	return out.ID, nil
}

// CreateAd creates the ad binding the ad set and creative together.
func (p *GraphProvider) CreateAd(ctx context.Context, params AdParams) (string, error) {
	if p == nil {
		return "", errors.New("ads: provider is nil")
	}

	creativeRef, err := json.Marshal(map[string]string{"creative_id": params.CreativeID})
	if err != nil {
		return "", fmt.Errorf("ads: encode creative reference: %w", err)
	}

	form := url.Values{}
	form.Set("name", params.Name)
	form.Set("adset_id", params.AdSetID)
	form.Set("creative", string(creativeRef))
	form.Set("status", params.Status)
	form.Set("access_token", params.AccessToken)

	var out idResponse
	if err := p.postForm(ctx, p.edge(normalizeAccountID(params.AdAccountID), "ads"), form, &out); err != nil {
		return "", fmt.Errorf("ads: create ad: %w", err)
	}

	p.logger(ctx, "ads.graph.ad.created", map[string]any{
		"adId":    out.ID,
		"adSetId": params.AdSetID,
	})
	return out.ID, nil
}

// UploadImage uploads the local file via multipart form data and returns
// the opaque image hash keyed by file name in the platform response.
func (p *GraphProvider) UploadImage(ctx context.Context, params ImageUploadParams) (string, error) {
	if p == nil {
		return "", errors.New("ads: provider is nil")
	}

	file, err := os.Open(params.FilePath)
	if err != nil {
		return "", fmt.Errorf("ads: open image file: %w", err)
	}
	defer file.Close()

	fileName := strings.TrimSpace(params.FileName)
	if fileName == "" {
		fileName = filepath.Base(params.FilePath)
	}

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("access_token", params.AccessToken); err != nil {
		return "", fmt.Errorf("ads: write upload field: %w", err)
	}
	part, err := writer.CreateFormFile("filename", fileName)
	if err != nil {
		return "", fmt.Errorf("ads: create upload part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("ads: copy image payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("ads: finalise upload payload: %w", err)
	}

	endpoint := p.edge(normalizeAccountID(params.AdAccountID), "adimages")
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("ads: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	data, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("ads: upload image: %w", err)
	}

	var out struct {
		Images map[string]struct {
			Hash string `json:"hash"`
		} `json:"images"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("ads: decode upload response: %w", err)
	}
	for _, image := range out.Images {
		if image.Hash != "" {
			p.logger(ctx, "ads.graph.image.uploaded", map[string]any{
				"fileName": fileName,
			})
			return image.Hash, nil
		}
	}
	return "", errors.New("ads: upload response carried no image hash")
}

// LookupPostID asks the platform to resolve a post URL to its native id.
func (p *GraphProvider) LookupPostID(ctx context.Context, postURL, accessToken string) (string, error) {
	if p == nil {
		return "", errors.New("ads: provider is nil")
	}

	query := url.Values{}
	query.Set("id", postURL)
	query.Set("fields", "og_object{id}")
	query.Set("access_token", accessToken)

	data, err := p.getJSON(ctx, p.node("")+"?"+query.Encode())
	if err != nil {
		return "", fmt.Errorf("ads: lookup post url: %w", err)
	}

	var out struct {
		OGObject struct {
			ID string `json:"id"`
		} `json:"og_object"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("ads: decode lookup response: %w", err)
	}
	id := strings.TrimSpace(out.OGObject.ID)
	if id == "" {
		return "", ErrPostNotResolvable
	}
	return id, nil
}

// GetPostMetadata checks that a post exists and whether it is published.
func (p *GraphProvider) GetPostMetadata(ctx context.Context, objectStoryID, accessToken string) (PostMetadata, error) {
	if p == nil {
		return PostMetadata{}, errors.New("ads: provider is nil")
	}

	query := url.Values{}
	query.Set("fields", "id,is_published")
	query.Set("access_token", accessToken)

	data, err := p.getJSON(ctx, p.node(objectStoryID)+"?"+query.Encode())
	if err != nil {
		return PostMetadata{}, fmt.Errorf("ads: get post metadata: %w", err)
	}

	var out struct {
		ID          string `json:"id"`
		IsPublished bool   `json:"is_published"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return PostMetadata{}, fmt.Errorf("ads: decode post metadata: %w", err)
	}
	return PostMetadata{ID: out.ID, Published: out.IsPublished}, nil
}

// ListCampaigns returns the live campaign listing for an ad account.
func (p *GraphProvider) ListCampaigns(ctx context.Context, adAccountID, accessToken string) ([]CampaignListing, error) {
	if p == nil {
		return nil, errors.New("ads: provider is nil")
	}

	query := url.Values{}
	query.Set("fields", "id,name,status,created_time")
	query.Set("access_token", accessToken)

	data, err := p.getJSON(ctx, p.edge(normalizeAccountID(adAccountID), "campaigns")+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("ads: list campaigns: %w", err)
	}

	var out struct {
		Data []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Status      string `json:"status"`
			CreatedTime string `json:"created_time"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ads: decode campaign listing: %w", err)
	}

	listings := make([]CampaignListing, 0, len(out.Data))
	for _, row := range out.Data {
		listing := CampaignListing{
			ID:     row.ID,
			Name:   row.Name,
			Status: row.Status,
		}
		if row.CreatedTime != "" {
			if createdAt, err := time.Parse("2006-01-02T15:04:05-0700", row.CreatedTime); err == nil {
				listing.CreatedAt = createdAt.UTC()
			}
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (p *GraphProvider) edge(node, edge string) string {
	return fmt.Sprintf("%s/%s/%s/%s", p.base, p.version, node, edge)
}

func (p *GraphProvider) node(id string) string {
	if id == "" {
		return fmt.Sprintf("%s/%s/", p.base, p.version)
	}
	return fmt.Sprintf("%s/%s/%s", p.base, p.version, id)
}

func (p *GraphProvider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	data, err := p.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *GraphProvider) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return p.do(req)
}

func (p *GraphProvider) do(req *http.Request) ([]byte, error) {
	// Only the path is logged: query strings and form bodies carry tokens.
	start := p.clock()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger(req.Context(), "ads.graph.transport_error", map[string]any{
			"method":     req.Method,
			"path":       req.URL.Path,
			"durationMs": p.clock().Sub(start).Milliseconds(),
			"error":      err.Error(),
		})
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	p.logger(req.Context(), "ads.graph.call", map[string]any{
		"method":     req.Method,
		"path":       req.URL.Path,
		"status":     resp.StatusCode,
		"durationMs": p.clock().Sub(start).Milliseconds(),
	})

	if resp.StatusCode >= 400 {
		return nil, parsePlatformError(resp.StatusCode, data)
	}
	return data, nil
}

func parsePlatformError(status int, body []byte) error {
	platformErr := &PlatformError{
		Status: status,
		Raw:    string(body),
	}

	var envelope struct {
		Error struct {
			Message   string `json:"message"`
			Type      string `json:"type"`
			Code      int    `json:"code"`
			Subcode   int    `json:"error_subcode"`
			FBTraceID string `json:"fbtrace_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		platformErr.Message = envelope.Error.Message
		platformErr.Type = envelope.Error.Type
		platformErr.Code = envelope.Error.Code
		platformErr.Subcode = envelope.Error.Subcode
		platformErr.TraceID = envelope.Error.FBTraceID
	}
	if platformErr.Message == "" {
		platformErr.Message = strings.TrimSpace(string(body))
	}
	return platformErr
}
