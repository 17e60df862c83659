package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tablebuzz/api/internal/ads"
	"github.com/tablebuzz/api/internal/domain"
	"github.com/tablebuzz/api/internal/platform/auth"
	"github.com/tablebuzz/api/internal/platform/httpx"
	"github.com/tablebuzz/api/internal/repositories"
	"github.com/tablebuzz/api/internal/services"
)

const (
	maxCampaignJSONBody  = 64 * 1024
	maxCampaignImageBody = 8 << 20

	// Creation calls fan out into four upstream writes each, so the per-user
	// budget is deliberately tight.
	provisionRateLimit  = 10
	provisionRateWindow = time.Minute
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds the allowed size")
)

// CampaignHandlers exposes the campaign provisioning and listing endpoints
// for authenticated users.
type CampaignHandlers struct {
	authn        *auth.Authenticator
	provisioning services.ProvisioningService
	limiter      rateLimiter
}

// CampaignOption customises campaign handler construction.
type CampaignOption func(*campaignOptions)

type campaignOptions struct {
	provisionLimit int
}

// WithProvisionRateLimit overrides the per-user creation budget per minute.
func WithProvisionRateLimit(perMinute int) CampaignOption {
	return func(o *campaignOptions) {
		if perMinute > 0 {
			o.provisionLimit = perMinute
		}
	}
}

// NewCampaignHandlers constructs campaign handlers guarded by Firebase authentication.
func NewCampaignHandlers(authn *auth.Authenticator, provisioning services.ProvisioningService, opts ...CampaignOption) *CampaignHandlers {
	options := campaignOptions{provisionLimit: provisionRateLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &CampaignHandlers{
		authn:        authn,
		provisioning: provisioning,
		limiter:      newSimpleRateLimiter(options.provisionLimit, provisionRateWindow, time.Now),
	}
}

// Routes registers campaign endpoints under the provided router.
func (h *CampaignHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/campaigns/from-image", h.createFromImage)
	group.Post("/campaigns/from-post", h.createFromPost)
	group.Get("/campaigns", h.listCampaigns)
}

type campaignFromPostRequest struct {
	AdAccountID   string `json:"adAccountId"`
	PageID        string `json:"pageId"`
	CampaignName  string `json:"campaignName"`
	WeeklyBudget  string `json:"weeklyBudget"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	Radius        string `json:"radius"`
	CallToAction  string `json:"callToAction"`
	Objective     string `json:"objective"`
	AdDescription string `json:"adDescription"`
	AdTitle       string `json:"adTitle"`
	LinkURL       string `json:"linkUrl"`
	PostURL       string `json:"postUrl"`
}

type campaignCreatedResponse struct {
	CampaignID string `json:"campaignId"`
	AdSetID    string `json:"adSetId"`
	CreativeID string `json:"creativeId"`
	AdID       string `json:"adId"`
	Status     string `json:"status"`
}

func (h *CampaignHandlers) createFromPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCampaignJSONBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req campaignFromPostRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	raw := services.RawProvisioningInput{
		AdAccountID:   req.AdAccountID,
		PageID:        req.PageID,
		CampaignName:  req.CampaignName,
		WeeklyBudget:  req.WeeklyBudget,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Radius:        req.Radius,
		CallToAction:  req.CallToAction,
		Objective:     req.Objective,
		AdDescription: req.AdDescription,
		AdTitle:       req.AdTitle,
		LinkURL:       req.LinkURL,
		CreativeKind:  domain.CreativeSourceExistingPost,
		PostURL:       req.PostURL,
	}

	h.provision(ctx, w, identity.UID, raw)
}

func (h *CampaignHandlers) createFromImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxCampaignImageBody); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request must be multipart form data", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	imagePath, err := stageUploadedImage(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	raw := services.RawProvisioningInput{
		AdAccountID:   r.FormValue("adAccountId"),
		PageID:        r.FormValue("pageId"),
		CampaignName:  r.FormValue("campaignName"),
		WeeklyBudget:  r.FormValue("weeklyBudget"),
		StartTime:     r.FormValue("startTime"),
		EndTime:       r.FormValue("endTime"),
		Latitude:      r.FormValue("latitude"),
		Longitude:     r.FormValue("longitude"),
		Radius:        r.FormValue("radius"),
		CallToAction:  r.FormValue("callToAction"),
		Objective:     r.FormValue("objective"),
		AdDescription: r.FormValue("adDescription"),
		AdTitle:       r.FormValue("adTitle"),
		LinkURL:       r.FormValue("linkUrl"),
		CreativeKind:  domain.CreativeSourceImage,
		ImageFile:     imagePath,
	}

	h.provision(ctx, w, identity.UID, raw)
}

// provision normalizes the raw input and runs the pipeline, translating
// every failure mode into its HTTP shape.
func (h *CampaignHandlers) provision(ctx context.Context, w http.ResponseWriter, userID string, raw services.RawProvisioningInput) {
	if h.provisioning == nil {
		httpx.WriteError(ctx, w, httpx.NewError("provisioning_unavailable", "campaign provisioning unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		cleanupStagedImage(raw)
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many provisioning requests; retry later", http.StatusTooManyRequests))
		return
	}

	req, err := services.NormalizeProvisioningRequest(raw)
	if err != nil {
		cleanupStagedImage(raw)
		h.writeProvisioningError(ctx, w, err)
		return
	}

	result, err := h.provisioning.Provision(ctx, services.ProvisionCommand{UserID: userID, Request: req})
	if err != nil {
		// The pipeline only removes the staged file once it reaches the
		// upload; failures before that would otherwise leak it.
		cleanupStagedImage(raw)
		h.writeProvisioningError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, campaignCreatedResponse{
		CampaignID: result.CampaignID,
		AdSetID:    result.AdSetID,
		CreativeID: result.CreativeID,
		AdID:       result.AdID,
		Status:     result.Status,
	})
}

func (h *CampaignHandlers) listCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.provisioning == nil {
		httpx.WriteError(ctx, w, httpx.NewError("provisioning_unavailable", "campaign provisioning unavailable", http.StatusServiceUnavailable))
		return
	}

	adAccountID := strings.TrimSpace(r.URL.Query().Get("adAccountId"))
	if adAccountID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "adAccountId query parameter is required", http.StatusBadRequest))
		return
	}

	summaries, err := h.provisioning.ListCampaigns(ctx, services.ListCampaignsCommand{
		UserID:      identity.UID,
		AdAccountID: adAccountID,
	})
	if err != nil {
		h.writeProvisioningError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"campaigns": summaries})
}

func (h *CampaignHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// writeProvisioningError maps service failures onto the HTTP surface. Partial
// pipeline failures must surface every created id: the objects are live on
// the platform and someone has to clean them up.
func (h *CampaignHandlers) writeProvisioningError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	var pipelineErr *services.PipelineError
	var platformErr *ads.PlatformError

	switch {
	case errors.As(err, &validationErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "missing or invalid fields", http.StatusBadRequest).
			WithDetails(map[string]any{"missingFields": validationErr.Fields()}))
	case errors.Is(err, services.ErrUnparseablePostURL):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_post_url", "post url could not be resolved to a post", http.StatusBadRequest))
	case errors.Is(err, repositories.ErrTokenNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("account_not_connected", "ad account is not connected", http.StatusUnauthorized))
	case errors.As(err, &pipelineErr):
		details := map[string]any{
			"stage":      string(pipelineErr.Stage),
			"createdIds": pipelineErr.Result.CreatedIDs(),
		}
		status := http.StatusInternalServerError
		code := "provisioning_failed"
		if errors.As(pipelineErr.Err, &platformErr) {
			status = http.StatusBadGateway
			code = "platform_error"
			details["platformError"] = platformErr.Message
			if platformErr.Code != 0 {
				details["platformCode"] = platformErr.Code
			}
		}
		if errors.Is(pipelineErr.Err, services.ErrUnparseablePostURL) {
			status = http.StatusBadRequest
			code = "invalid_post_url"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, pipelineErr.Error(), status).WithDetails(details))
	case errors.As(err, &platformErr):
		httpx.WriteError(ctx, w, httpx.NewError("platform_error", platformErr.Message, http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("provisioning_error", "failed to process campaign request", http.StatusInternalServerError))
	}
}

// stageUploadedImage copies the multipart image part to a private temp file
// and returns its path. The pipeline owns the file from here on and removes
// it after the upload attempt.
func stageUploadedImage(r *http.Request) (string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", errors.New("image file part is required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		return "", fmt.Errorf("unsupported image extension %q", ext)
	}

	tmp, err := os.CreateTemp("", "ad-image-*"+ext)
	if err != nil {
		return "", fmt.Errorf("stage image: %w", err)
	}
	if err := copyAndClose(tmp, file); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("stage image: %w", err)
	}
	return tmp.Name(), nil
}

func copyAndClose(dst *os.File, src multipart.File) error {
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// cleanupStagedImage removes the staged temp file on paths that bail out
// before the pipeline takes ownership of it.
func cleanupStagedImage(raw services.RawProvisioningInput) {
	if raw.CreativeKind == domain.CreativeSourceImage && raw.ImageFile != "" {
		_ = os.Remove(raw.ImageFile)
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
