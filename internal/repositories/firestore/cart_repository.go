package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/buypoint/checkout/internal/domain"
	pfirestore "github.com/buypoint/checkout/internal/platform/firestore"
	"github.com/buypoint/checkout/internal/repositories"
)

const cartItemsCollectionPattern = "users/%s/cart_items"

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	Quantity  int       `firestore:"quantity"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CartRepository stores one document per cart item under the owning user.
type CartRepository struct {
	items    *pfirestore.ScopedCollection[cartItemDocument]
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		items:    pfirestore.NewScopedCollection[cartItemDocument](provider, cartItemsCollectionPattern, nil, nil),
		provider: provider,
		now:      time.Now,
	}, nil
}

// ListItems returns every item in the user's remote cart.
func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	docs, err := r.items.Query(ctx, userID, orderByProduct)
	if err != nil {
		return nil, err
	}
	return cartItemsFromDocuments(docs), nil
}

// PutItem creates or replaces a single item.
func (r *CartRepository) PutItem(ctx context.Context, userID string, item domain.CartItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return errors.New("cart repository: item id is required")
	}
	return r.items.Set(ctx, userID, item.ID, cartItemDocument{
		ProductID: item.ProductID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Quantity:  item.Quantity,
		ImageURL:  item.ImageURL,
		UpdatedAt: r.now().UTC(),
	})
}

// DeleteItem removes an item; a missing item is not an error.
func (r *CartRepository) DeleteItem(ctx context.Context, userID string, itemID string) error {
	return r.items.Delete(ctx, userID, itemID)
}

// Clear deletes every item document for the user.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	coll, err := r.items.Collection(ctx, userID)
	if err != nil {
		return err
	}
	refs, err := coll.DocumentRefs(ctx).GetAll()
	if err != nil {
		return pfirestore.WrapError("cart_items.clear", err)
	}
	if len(refs) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	bw := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return pfirestore.WrapError("cart_items.clear", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError("cart_items.clear", fmt.Errorf("delete item: %w", err))
		}
	}
	return nil
}

// WatchItems streams the full item list after every remote change.
func (r *CartRepository) WatchItems(ctx context.Context, userID string, fn func([]domain.CartItem)) error {
	return r.items.Watch(ctx, userID, orderByProduct, func(docs []pfirestore.Document[cartItemDocument]) {
		fn(cartItemsFromDocuments(docs))
	})
}

func orderByProduct(q firestore.Query) firestore.Query {
	return q.OrderBy("productId", firestore.Asc)
}

func cartItemsFromDocuments(docs []pfirestore.Document[cartItemDocument]) []domain.CartItem {
	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.CartItem{
			ID:        doc.ID,
			ProductID: doc.Data.ProductID,
			Name:      doc.Data.Name,
			UnitPrice: doc.Data.UnitPrice,
			Quantity:  doc.Data.Quantity,
			ImageURL:  doc.Data.ImageURL,
		})
	}
	return items
}
