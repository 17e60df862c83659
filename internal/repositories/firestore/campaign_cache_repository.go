package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tablebuzz/api/internal/domain"
	pfirestore "github.com/tablebuzz/api/internal/platform/firestore"
)

const campaignCacheCollectionPattern = "adAccounts/%s/campaigns"

// CampaignCacheRepository persists denormalized campaign summaries per ad
// account so listings survive process restarts.
type CampaignCacheRepository struct {
	provider *pfirestore.Provider
}

// NewCampaignCacheRepository constructs a Firestore-backed campaign cache.
func NewCampaignCacheRepository(provider *pfirestore.Provider) (*CampaignCacheRepository, error) {
	if provider == nil {
		return nil, errors.New("campaign cache repository requires firestore provider")
	}
	return &CampaignCacheRepository{provider: provider}, nil
}

type campaignRecordDocument struct {
	AdAccountID  string    `firestore:"adAccountId"`
	CampaignID   string    `firestore:"campaignId"`
	AdSetID      string    `firestore:"adSetId"`
	CreativeID   string    `firestore:"creativeId"`
	AdID         string    `firestore:"adId"`
	Name         string    `firestore:"name"`
	Status       string    `firestore:"status"`
	DailyBudget  int64     `firestore:"dailyBudget"`
	CreatedAt    time.Time `firestore:"createdAt"`
	CreatedByUID string    `firestore:"createdByUid"`
}

// Append stores the record under the account's campaigns subcollection.
func (r *CampaignCacheRepository) Append(ctx context.Context, accountID string, record domain.CampaignRecord) error {
	coll, err := r.collection(ctx, accountID)
	if err != nil {
		return err
	}

	docID := strings.TrimSpace(record.ID)
	if docID == "" {
		docID = strings.TrimSpace(record.CampaignID)
	}
	if docID == "" {
		return errors.New("campaign cache: record id is required")
	}

	doc := campaignRecordDocument{
		AdAccountID:  strings.TrimSpace(accountID),
		CampaignID:   record.CampaignID,
		AdSetID:      record.AdSetID,
		CreativeID:   record.CreativeID,
		AdID:         record.AdID,
		Name:         record.Name,
		Status:       record.Status,
		DailyBudget:  record.DailyBudget,
		CreatedAt:    record.CreatedAt.UTC(),
		CreatedByUID: record.CreatedByUID,
	}
	if _, err := coll.Doc(docID).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("campaigns.append", err)
	}
	return nil
}

// List returns the cached records for the account, most recent first.
func (r *CampaignCacheRepository) List(ctx context.Context, accountID string) ([]domain.CampaignRecord, error) {
	coll, err := r.collection(ctx, accountID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var records []domain.CampaignRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("campaigns.list", err)
		}

		var doc campaignRecordDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("campaigns.list: decode document %s: %w", snap.Ref.ID, err)
		}
		records = append(records, domain.CampaignRecord{
			ID:           snap.Ref.ID,
			AdAccountID:  doc.AdAccountID,
			CampaignID:   doc.CampaignID,
			AdSetID:      doc.AdSetID,
			CreativeID:   doc.CreativeID,
			AdID:         doc.AdID,
			Name:         doc.Name,
			Status:       doc.Status,
			DailyBudget:  doc.DailyBudget,
			CreatedAt:    doc.CreatedAt,
			CreatedByUID: doc.CreatedByUID,
		})
	}
	return records, nil
}

func (r *CampaignCacheRepository) collection(ctx context.Context, accountID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("campaign cache repository not initialised")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("campaign cache: account id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(campaignCacheCollectionPattern, accountID)), nil
}
