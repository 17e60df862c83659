package services

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tablebuzz/api/internal/domain"
)

// Default geo target applied when the client omits location fields. This is
// product policy, not an error: campaigns without an address fall back to the
// city-centre radius target.
var defaultGeoTarget = domain.GeoTarget{
	Latitude:  -23.5505,
	Longitude: -46.6333,
	RadiusKm:  5,
}

// NormalizeProvisioningRequest converts raw client input into a validated
// ProvisioningRequest. It is a pure function: the same input always yields
// the same result.
//
// The client-supplied objective is recorded but never used; every campaign is
// provisioned with domain.EffectiveObjective. Honouring the field would change
// which campaign types the platform accepts, so the override is preserved as
// observed product behaviour.
func NormalizeProvisioningRequest(raw RawProvisioningInput) (ProvisioningRequest, error) {
	var missing []string

	adAccountID := strings.TrimSpace(raw.AdAccountID)
	if adAccountID == "" {
		missing = append(missing, "adAccountId")
	}
	pageID := strings.TrimSpace(raw.PageID)
	if pageID == "" {
		missing = append(missing, "pageId")
	}
	campaignName := strings.TrimSpace(raw.CampaignName)
	if campaignName == "" {
		missing = append(missing, "campaignName")
	}

	dailyBudget, budgetOK := normalizeWeeklyBudget(raw.WeeklyBudget)
	if !budgetOK {
		missing = append(missing, "weeklyBudget")
	}

	var startTime *time.Time
	if trimmed := strings.TrimSpace(raw.StartTime); trimmed == "" {
		missing = append(missing, "startTime")
	} else if parsed, err := time.Parse(time.RFC3339, trimmed); err != nil {
		missing = append(missing, "startTime")
	} else {
		utc := parsed.UTC()
		startTime = &utc
	}

	var endTime *time.Time
	if trimmed := strings.TrimSpace(raw.EndTime); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			missing = append(missing, "endTime")
		} else {
			utc := parsed.UTC()
			endTime = &utc
			if startTime != nil && !utc.After(*startTime) {
				missing = append(missing, "endTime")
			}
		}
	}

	source := domain.CreativeSource{Kind: raw.CreativeKind}
	switch raw.CreativeKind {
	case domain.CreativeSourceImage:
		source.ImageFile = strings.TrimSpace(raw.ImageFile)
		if source.ImageFile == "" {
			missing = append(missing, "imageFile")
		}
	case domain.CreativeSourceExistingPost:
		source.PostURL = strings.TrimSpace(raw.PostURL)
		if source.PostURL == "" {
			missing = append(missing, "postUrl")
		}
	default:
		missing = append(missing, "creativeSource")
	}

	if len(missing) > 0 {
		return ProvisioningRequest{}, NewValidationError(missing...)
	}

	return ProvisioningRequest{
		AdAccountID:           adAccountID,
		PageID:                pageID,
		CampaignName:          campaignName,
		DailyBudgetMinorUnits: dailyBudget,
		StartTime:             startTime,
		EndTime:               endTime,
		Location:              normalizeLocation(raw.Latitude, raw.Longitude, raw.Radius),
		CreativeSource:        source,
		AdDescription:         strings.TrimSpace(raw.AdDescription),
		AdTitle:               strings.TrimSpace(raw.AdTitle),
		LinkURL:               strings.TrimSpace(raw.LinkURL),
		CallToAction:          NormalizeCallToAction(raw.CallToAction),
		RequestedObjective:    strings.TrimSpace(raw.Objective),
	}, nil
}

// normalizeWeeklyBudget converts a weekly budget in major currency units to a
// daily budget in minor units: round(weekly / 7 * 100).
func normalizeWeeklyBudget(raw string) (int64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	weekly, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(weekly) || math.IsInf(weekly, 0) || weekly < 0 {
		return 0, false
	}
	return int64(math.Round(weekly / 7 * 100)), true
}

// normalizeLocation requires all three coordinates; anything less falls back
// to the default city target.
func normalizeLocation(latRaw, lonRaw, radiusRaw string) domain.GeoTarget {
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	radius, radiusErr := strconv.ParseFloat(strings.TrimSpace(radiusRaw), 64)
	if latErr != nil || lonErr != nil || radiusErr != nil || radius <= 0 {
		return defaultGeoTarget
	}
	return domain.GeoTarget{Latitude: lat, Longitude: lon, RadiusKm: radius}
}

// NormalizeCallToAction validates against the fixed allow-list, silently
// substituting the default for anything unrecognised.
func NormalizeCallToAction(raw string) domain.CallToAction {
	candidate := domain.CallToAction(strings.ToUpper(strings.TrimSpace(raw)))
	for _, allowed := range domain.AllowedCallToActions {
		if candidate == allowed {
			return candidate
		}
	}
	return domain.DefaultCallToAction
}
