package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tablebuzz/api/internal/domain"
)

// CampaignCache is an in-memory, mutex-guarded append-only cache of
// provisioned campaign records keyed by ad account id.
type CampaignCache struct {
	mu      sync.RWMutex
	records map[string][]domain.CampaignRecord
}

// NewCampaignCache constructs an empty campaign cache.
func NewCampaignCache() *CampaignCache {
	return &CampaignCache{
		records: make(map[string][]domain.CampaignRecord),
	}
}

// Append records a provisioned campaign under the given ad account.
func (c *CampaignCache) Append(_ context.Context, accountID string, record domain.CampaignRecord) error {
	if c == nil {
		return errors.New("campaign cache: not initialised")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return errors.New("campaign cache: account id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[accountID] = append(c.records[accountID], record)
	return nil
}

// List returns a copy of the records appended for the given ad account.
func (c *CampaignCache) List(_ context.Context, accountID string) ([]domain.CampaignRecord, error) {
	if c == nil {
		return nil, errors.New("campaign cache: not initialised")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("campaign cache: account id is required")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	stored := c.records[accountID]
	out := make([]domain.CampaignRecord, len(stored))
	copy(out, stored)
	return out, nil
}
