package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tablebuzz/api/internal/ads"
	"github.com/tablebuzz/api/internal/domain"
)

func newTestPreparer(t *testing.T, provider ads.Provider) *CreativePreparer {
	t.Helper()
	resolver := newTestResolver(t, provider)
	preparer, err := NewCreativePreparer(CreativePreparerDeps{Provider: provider, Resolver: resolver})
	if err != nil {
		t.Fatalf("NewCreativePreparer: %v", err)
	}
	return preparer
}

func stageTempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o600); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return path
}

func imageRequest(imagePath string) ProvisioningRequest {
	return ProvisioningRequest{
		AdAccountID:   "98765",
		PageID:        "42",
		CampaignName:  "Lunch promo",
		AdDescription: "Best burgers in town",
		AdTitle:       "Big Burger",
		LinkURL:       "https://example.com/menu",
		CallToAction:  domain.CTAOrderNow,
		CreativeSource: domain.CreativeSource{
			Kind:      domain.CreativeSourceImage,
			ImageFile: imagePath,
		},
	}
}

func TestPrepareImageCreative(t *testing.T) {
	imagePath := stageTempImage(t)

	var uploaded ads.ImageUploadParams
	provider := &stubAdsProvider{
		uploadImageFn: func(ctx context.Context, params ads.ImageUploadParams) (string, error) {
			uploaded = params
			return "abc123hash", nil
		},
	}
	preparer := newTestPreparer(t, provider)

	params, err := preparer.Prepare(context.Background(), imageRequest(imagePath), CreativeTokens{
		AccessToken:     "user-token",
		PageAccessToken: "page-token",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if uploaded.FilePath != imagePath || uploaded.AccessToken != "user-token" {
		t.Fatalf("unexpected upload params %#v", uploaded)
	}
	if params.ObjectStoryID != "" {
		t.Fatalf("image creative must not carry an object story id")
	}
	if params.Link == nil {
		t.Fatal("expected link data")
	}
	if params.Link.ImageHash != "abc123hash" {
		t.Fatalf("unexpected image hash %s", params.Link.ImageHash)
	}
	if params.Link.Message != "Best burgers in town" || params.Link.Link != "https://example.com/menu" {
		t.Fatalf("unexpected link data %#v", params.Link)
	}
	if params.Link.CallToAction != "ORDER_NOW" {
		t.Fatalf("unexpected call to action %s", params.Link.CallToAction)
	}
	if params.PageAccessToken != "page-token" {
		t.Fatalf("unexpected page token %s", params.PageAccessToken)
	}

	if _, err := os.Stat(imagePath); !os.IsNotExist(err) {
		t.Fatalf("temp image should be removed after upload, stat err %v", err)
	}
}

func TestPrepareImageCleansUpOnUploadFailure(t *testing.T) {
	imagePath := stageTempImage(t)

	uploadErr := &ads.PlatformError{Status: 400, Code: 100, Message: "invalid image"}
	provider := &stubAdsProvider{
		uploadImageFn: func(ctx context.Context, params ads.ImageUploadParams) (string, error) {
			return "", uploadErr
		},
	}
	preparer := newTestPreparer(t, provider)

	_, err := preparer.Prepare(context.Background(), imageRequest(imagePath), CreativeTokens{})
	var platformErr *ads.PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("expected platform error, got %v", err)
	}

	if _, err := os.Stat(imagePath); !os.IsNotExist(err) {
		t.Fatalf("temp image should be removed after failed upload, stat err %v", err)
	}
}

func TestPrepareExistingPostCreative(t *testing.T) {
	provider := &stubAdsProvider{
		lookupPostIDFn: func(ctx context.Context, postURL, accessToken string) (string, error) {
			return "556677", nil
		},
	}
	preparer := newTestPreparer(t, provider)

	req := ProvisioningRequest{
		AdAccountID:  "98765",
		PageID:       "42",
		CampaignName: "Lunch promo",
		CreativeSource: domain.CreativeSource{
			Kind:    domain.CreativeSourceExistingPost,
			PostURL: "https://facebook.com/mypage/posts/556677",
		},
	}

	params, err := preparer.Prepare(context.Background(), req, CreativeTokens{
		AccessToken:     "user-token",
		PageAccessToken: "page-token",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.ObjectStoryID != "42_556677" {
		t.Fatalf("unexpected object story id %s", params.ObjectStoryID)
	}
	if params.Link != nil {
		t.Fatal("existing post creative must not carry link data")
	}
}

func TestPrepareExistingPostUnresolvable(t *testing.T) {
	provider := &stubAdsProvider{}
	preparer := newTestPreparer(t, provider)

	req := ProvisioningRequest{
		AdAccountID:  "98765",
		PageID:       "42",
		CampaignName: "Lunch promo",
		CreativeSource: domain.CreativeSource{
			Kind:    domain.CreativeSourceExistingPost,
			PostURL: "https://facebook.com/mypage",
		},
	}

	_, err := preparer.Prepare(context.Background(), req, CreativeTokens{})
	if !errors.Is(err, ErrUnparseablePostURL) {
		t.Fatalf("expected ErrUnparseablePostURL, got %v", err)
	}
}

func TestPrepareRejectsUnknownSource(t *testing.T) {
	provider := &stubAdsProvider{}
	preparer := newTestPreparer(t, provider)

	req := ProvisioningRequest{
		AdAccountID:    "98765",
		PageID:         "42",
		CreativeSource: domain.CreativeSource{Kind: "carousel"},
	}

	if _, err := preparer.Prepare(context.Background(), req, CreativeTokens{}); err == nil {
		t.Fatal("expected error for unknown creative source")
	}
}
