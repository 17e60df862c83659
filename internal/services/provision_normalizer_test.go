package services

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"testing"

	"github.com/tablebuzz/api/internal/domain"
)

func validRawInput() RawProvisioningInput {
	return RawProvisioningInput{
		AdAccountID:   "act_98765",
		PageID:        "123",
		CampaignName:  "Lunch promo",
		WeeklyBudget:  "100",
		StartTime:     "2025-06-01T12:00:00Z",
		Latitude:      "-23.5505",
		Longitude:     "-46.6333",
		Radius:        "5",
		CallToAction:  "ORDER_NOW",
		Objective:     "OUTCOME_SALES",
		AdDescription: "Best burgers in town",
		LinkURL:       "https://example.com/menu",
		CreativeKind:  domain.CreativeSourceExistingPost,
		PostURL:       "https://facebook.com/page/posts/998877",
	}
}

func TestNormalizeBudgetConversion(t *testing.T) {
	raw := validRawInput()
	raw.WeeklyBudget = "100"

	req, err := NormalizeProvisioningRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// round(100/7*100) = round(1428.57...) = 1429
	if req.DailyBudgetMinorUnits != 1429 {
		t.Fatalf("expected 1429 minor units, got %d", req.DailyBudgetMinorUnits)
	}
}

func TestNormalizeBudgetRoundTrip(t *testing.T) {
	raw := validRawInput()
	for _, weekly := range []float64{0, 0.07, 1, 3.5, 49.99, 70, 1234.56, 99999.99, 100000} {
		raw.WeeklyBudget = fmt.Sprintf("%v", weekly)
		req, err := NormalizeProvisioningRequest(raw)
		if err != nil {
			t.Fatalf("unexpected error for weekly %v: %v", weekly, err)
		}
		daily := req.DailyBudgetMinorUnits
		if daily != int64(math.Round(weekly/7*100)) {
			t.Fatalf("weekly %v: expected %d, got %d", weekly, int64(math.Round(weekly/7*100)), daily)
		}
		// Re-deriving the weekly budget must land within one cent.
		derivedWeekly := float64(daily) / 100 * 7
		if math.Abs(derivedWeekly-weekly) > 0.07+0.01 {
			t.Fatalf("weekly %v: derived %v drifted too far", weekly, derivedWeekly)
		}
	}
}

func TestNormalizeBudgetRejectsBadValues(t *testing.T) {
	for _, bad := range []string{"", "abc", "-10", "NaN", "Inf"} {
		raw := validRawInput()
		raw.WeeklyBudget = bad

		_, err := NormalizeProvisioningRequest(raw)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("budget %q: expected ValidationError, got %v", bad, err)
		}
		if !containsField(validationErr.Fields(), "weeklyBudget") {
			t.Fatalf("budget %q: weeklyBudget missing from %v", bad, validationErr.Fields())
		}
	}
}

func TestNormalizeCTAFallback(t *testing.T) {
	for _, bad := range []string{"", "CLICK_ME", "learnmore", "   "} {
		if got := NormalizeCallToAction(bad); got != domain.DefaultCallToAction {
			t.Fatalf("cta %q: expected default, got %s", bad, got)
		}
	}
	for _, allowed := range domain.AllowedCallToActions {
		if got := NormalizeCallToAction(string(allowed)); got != allowed {
			t.Fatalf("cta %s: expected passthrough, got %s", allowed, got)
		}
	}
	// Lowercase input is uppercased before matching.
	if got := NormalizeCallToAction("shop_now"); got != domain.CTAShopNow {
		t.Fatalf("expected SHOP_NOW, got %s", got)
	}
}

func TestNormalizeObjectiveAlwaysOverridden(t *testing.T) {
	for _, objective := range []string{"", "OUTCOME_SALES", "BRAND_AWARENESS", "nonsense"} {
		raw := validRawInput()
		raw.Objective = objective

		req, err := NormalizeProvisioningRequest(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.RequestedObjective != objective && req.RequestedObjective != "" {
			t.Fatalf("requested objective not preserved: %q", req.RequestedObjective)
		}
	}
	// The effective objective is a constant regardless of input.
	if domain.EffectiveObjective != "OUTCOME_TRAFFIC" {
		t.Fatalf("unexpected effective objective %s", domain.EffectiveObjective)
	}
}

func TestNormalizeLocationDefault(t *testing.T) {
	raw := validRawInput()
	raw.Latitude = ""
	raw.Longitude = ""
	raw.Radius = ""

	req, err := NormalizeProvisioningRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Location != defaultGeoTarget {
		t.Fatalf("expected default geo target, got %#v", req.Location)
	}

	// Partial coordinates also fall back.
	raw = validRawInput()
	raw.Radius = ""
	req, err = NormalizeProvisioningRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Location != defaultGeoTarget {
		t.Fatalf("expected default geo target for partial input, got %#v", req.Location)
	}
}

func TestNormalizeAggregatesMissingFields(t *testing.T) {
	raw := validRawInput()
	raw.CampaignName = ""
	raw.WeeklyBudget = ""

	_, err := NormalizeProvisioningRequest(raw)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := validationErr.Fields()
	sort.Strings(fields)
	want := []string{"campaignName", "weeklyBudget"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("expected %v, got %v", want, fields)
	}
}

func TestNormalizeCreativeSourceBranchFields(t *testing.T) {
	raw := validRawInput()
	raw.CreativeKind = domain.CreativeSourceImage
	raw.ImageFile = ""

	_, err := NormalizeProvisioningRequest(raw)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !containsField(validationErr.Fields(), "imageFile") {
		t.Fatalf("imageFile missing from %v", validationErr.Fields())
	}

	raw = validRawInput()
	raw.PostURL = ""
	_, err = NormalizeProvisioningRequest(raw)
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !containsField(validationErr.Fields(), "postUrl") {
		t.Fatalf("postUrl missing from %v", validationErr.Fields())
	}
}

func TestNormalizeEndTimeMustFollowStart(t *testing.T) {
	raw := validRawInput()
	raw.EndTime = "2025-05-01T12:00:00Z"

	_, err := NormalizeProvisioningRequest(raw)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !containsField(validationErr.Fields(), "endTime") {
		t.Fatalf("endTime missing from %v", validationErr.Fields())
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := validRawInput()

	first, err := NormalizeProvisioningRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NormalizeProvisioningRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization is not idempotent: %#v vs %#v", first, second)
	}
}

func containsField(fields []string, want string) bool {
	for _, field := range fields {
		if field == want {
			return true
		}
	}
	return false
}
