package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tablebuzz/api/internal/ads"
	"github.com/tablebuzz/api/internal/domain"
)

// CreativePreparerLogger defines the logging contract for creative preparation.
type CreativePreparerLogger func(ctx context.Context, event string, fields map[string]any)

// CreativePreparerDeps bundles the dependencies required to construct a CreativePreparer.
type CreativePreparerDeps struct {
	Provider ads.Provider
	Resolver *PostResolver
	Logger   CreativePreparerLogger
}

// CreativeTokens carries the two token scopes creative preparation needs: the
// user's account token for image uploads and lookups, and the page token the
// creative itself is created with.
type CreativeTokens struct {
	AccessToken     string
	PageAccessToken string
}

// CreativePreparer turns a creative source into ready creative params. The
// two source kinds are mutually exclusive: either a fresh image upload with
// link data, or a reference to an already published post.
type CreativePreparer struct {
	provider ads.Provider
	resolver *PostResolver
	logger   CreativePreparerLogger
}

// NewCreativePreparer validates dependencies and returns a ready preparer.
func NewCreativePreparer(deps CreativePreparerDeps) (*CreativePreparer, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("services: creative preparer requires provider")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("services: creative preparer requires post resolver")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CreativePreparer{
		provider: deps.Provider,
		resolver: deps.Resolver,
		logger:   logger,
	}, nil
}

// Prepare builds the creative params for the request's source. For image
// sources the local file is removed once the upload attempt finishes,
// succeed or fail.
func (p *CreativePreparer) Prepare(ctx context.Context, req ProvisioningRequest, tokens CreativeTokens) (ads.CreativeParams, error) {
	if p == nil {
		return ads.CreativeParams{}, fmt.Errorf("services: creative preparer is nil")
	}

	params := ads.CreativeParams{
		AdAccountID:     req.AdAccountID,
		PageID:          req.PageID,
		Name:            req.CampaignName + " - creative",
		PageAccessToken: tokens.PageAccessToken,
	}

	switch req.CreativeSource.Kind {
	case domain.CreativeSourceImage:
		imageHash, err := p.uploadImage(ctx, req, tokens.AccessToken)
		if err != nil {
			return ads.CreativeParams{}, err
		}
		params.Link = &ads.LinkData{
			Message:      req.AdDescription,
			Link:         req.LinkURL,
			Title:        req.AdTitle,
			ImageHash:    imageHash,
			CallToAction: string(req.CallToAction),
		}
	case domain.CreativeSourceExistingPost:
		ref, err := p.resolver.Resolve(ctx, req.PageID, req.CreativeSource.PostURL, tokens.AccessToken)
		if err != nil {
			return ads.CreativeParams{}, err
		}
		params.ObjectStoryID = ref.ObjectStoryID
	default:
		return ads.CreativeParams{}, fmt.Errorf("services: unsupported creative source %q", req.CreativeSource.Kind)
	}

	return params, nil
}

// uploadImage uploads the staged file and always removes it afterwards. The
// file lives in a temp directory written by the HTTP layer; leaving it behind
// after either outcome would leak disk on every request.
func (p *CreativePreparer) uploadImage(ctx context.Context, req ProvisioningRequest, accessToken string) (string, error) {
	filePath := req.CreativeSource.ImageFile
	defer func() {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			p.logger(ctx, "services.creative.temp_file_remove_failed", map[string]any{
				"path":  filePath,
				"error": err.Error(),
			})
		}
	}()

	imageHash, err := p.provider.UploadImage(ctx, ads.ImageUploadParams{
		AdAccountID: req.AdAccountID,
		FileName:    filepath.Base(filePath),
		FilePath:    filePath,
		AccessToken: accessToken,
	})
	if err != nil {
		return "", fmt.Errorf("services: upload creative image: %w", err)
	}

	p.logger(ctx, "services.creative.image_uploaded", map[string]any{
		"adAccountId": req.AdAccountID,
		"imageHash":   imageHash,
	})
	return imageHash, nil
}
