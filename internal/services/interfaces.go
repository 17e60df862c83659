package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tablebuzz/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ProvisioningRequest   = domain.ProvisioningRequest
	PipelineResult        = domain.PipelineResult
	ResolvedPostReference = domain.ResolvedPostReference
	CreativeSource        = domain.CreativeSource
	CampaignRecord        = domain.CampaignRecord
	CampaignSummary       = domain.CampaignSummary
)

// RawProvisioningInput carries the request fields exactly as the client sent
// them, before any normalization. Numeric fields arrive as free text because
// the dashboard submits form values.
type RawProvisioningInput struct {
	AdAccountID  string
	PageID       string
	CampaignName string

	// WeeklyBudget is the weekly budget in major currency units.
	WeeklyBudget string

	StartTime string
	EndTime   string

	Latitude  string
	Longitude string
	Radius    string

	CallToAction string
	Objective    string

	AdDescription string
	AdTitle       string
	LinkURL       string

	CreativeKind domain.CreativeSourceKind
	ImageFile    string
	PostURL      string
}

// ProvisionCommand is the orchestrator input: the authenticated caller plus
// the normalized request.
type ProvisionCommand struct {
	UserID  string
	Request ProvisioningRequest
}

// ListCampaignsCommand asks for the merged campaign listing of one ad account.
type ListCampaignsCommand struct {
	UserID      string
	AdAccountID string
}

// ProvisioningService owns the four-stage campaign provisioning pipeline and
// the merged campaign listing.
type ProvisioningService interface {
	Provision(ctx context.Context, cmd ProvisionCommand) (PipelineResult, error)
	ListCampaigns(ctx context.Context, cmd ListCampaignsCommand) ([]CampaignSummary, error)
}

// EventPublisher announces provisioning outcomes to interested consumers.
type EventPublisher interface {
	PublishCampaignProvisioned(ctx context.Context, event CampaignProvisionedEvent) (string, error)
}

// CampaignProvisionedEvent is emitted after the pipeline reaches its terminal
// success state.
type CampaignProvisionedEvent struct {
	AdAccountID string `json:"adAccountId"`
	CampaignID  string `json:"campaignId"`
	AdSetID     string `json:"adSetId"`
	CreativeID  string `json:"creativeId"`
	AdID        string `json:"adId"`
	Name        string `json:"name"`
	CreatedBy   string `json:"createdBy"`
}

// ValidationError aggregates every missing or malformed input field so the
// client sees the complete list in one response.
type ValidationError struct {
	fields []string
}

// NewValidationError constructs a ValidationError for the given field names.
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{fields: fields}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("provisioning: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// PipelineError reports which stage failed and every platform object created
// before the failure. No compensation is attempted: earlier objects stay live
// on the platform, so their ids must reach the operator.
type PipelineError struct {
	Stage  domain.PipelineStage
	Result PipelineResult
	Err    error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e == nil {
		return "provisioning: pipeline error"
	}
	return fmt.Sprintf("provisioning: stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the stage failure cause.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
