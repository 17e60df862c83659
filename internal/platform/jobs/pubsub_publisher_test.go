package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tablebuzz/api/internal/services"
)

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "campaign-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.CampaignProvisionedEvent{
		AdAccountID: "98765",
		CampaignID:  "c-1",
		AdSetID:     "as-1",
		CreativeID:  "cr-1",
		AdID:        "a-1",
		Name:        "Lunch promo",
		CreatedBy:   "user-1",
	}

	if _, err := publisher.PublishCampaignProvisioned(ctx, event); err != nil {
		t.Fatalf("PublishCampaignProvisioned: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.CampaignProvisionedEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CampaignID != event.CampaignID || payload.AdID != event.AdID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["campaignId"]; attr != "c-1" {
		t.Fatalf("expected campaignId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["createdBy"]; attr != "user-1" {
		t.Fatalf("expected createdBy attribute, got %q", attr)
	}
}

func TestNewPubSubEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
