package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/tablebuzz/api/internal/services"
)

// PubSubEventPublisher publishes campaign lifecycle events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed campaign event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCampaignProvisioned enqueues a campaign-provisioned message on the configured topic.
func (p *PubSubEventPublisher) PublishCampaignProvisioned(ctx context.Context, event services.CampaignProvisionedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal campaign provisioned event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "adAccountId", event.AdAccountID)
	setAttr(attrs, "campaignId", event.CampaignID)
	setAttr(attrs, "adId", event.AdID)
	setAttr(attrs, "createdBy", event.CreatedBy)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish campaign provisioned event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
