package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/buypoint/checkout/internal/domain"
	pfirestore "github.com/buypoint/checkout/internal/platform/firestore"
	"github.com/buypoint/checkout/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

type addressDocument struct {
	Street     string    `firestore:"street"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	IsDefault  bool      `firestore:"isDefault"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// AddressRepository persists user addresses in Firestore.
type AddressRepository struct {
	addresses *pfirestore.ScopedCollection[addressDocument]
	provider  *pfirestore.Provider
	now       func() time.Time
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		addresses: pfirestore.NewScopedCollection[addressDocument](provider, addressCollectionPattern, nil, nil),
		provider:  provider,
		now:       time.Now,
	}, nil
}

// List returns the default address first, then the rest newest first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	docs, err := r.addresses.Query(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	results := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		results = append(results, doc.Data.toDomain(doc.ID))
	}
	sortAddresses(results)
	return results, nil
}

// Get loads a single address.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	doc, err := r.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert creates or updates addr. An update never clears the default flag of the address
// that currently holds it.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
	coll, err := r.addresses.Collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}

		var ref *firestore.DocumentRef
		var current *addressDocument
		if id := strings.TrimSpace(addr.ID); id != "" {
			ref = coll.Doc(id)
		} else {
			ref = coll.NewDoc()
		}
		others := make([]*firestore.DocumentSnapshot, 0, len(snaps))
		for _, snap := range snaps {
			if snap.Ref.ID == ref.ID {
				doc, err := r.addresses.Decode(snap)
				if err != nil {
					return err
				}
				current = &doc.Data
				continue
			}
			others = append(others, snap)
		}

		now := r.now().UTC()
		doc := newAddressDocument(addr)
		doc.CreatedAt = now
		if current != nil {
			doc.CreatedAt = current.CreatedAt
			doc.IsDefault = doc.IsDefault || current.IsDefault
		}
		if len(others) == 0 {
			doc.IsDefault = true
		}
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		if doc.IsDefault {
			if err := clearDefaults(tx, others, now); err != nil {
				return err
			}
		}
		saved = doc.toDomain(ref.ID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}
	return saved, nil
}

// Delete removes the address. When the default is removed the newest remaining address
// becomes default.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.addresses.Collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}
		var (
			found      bool
			wasDefault bool
			newest     *firestore.DocumentSnapshot
			newestAt   time.Time
		)
		for _, snap := range snaps {
			doc, err := r.addresses.Decode(snap)
			if err != nil {
				return err
			}
			if snap.Ref.ID == id {
				found, wasDefault = true, doc.Data.IsDefault
				continue
			}
			if newest == nil || doc.Data.CreatedAt.After(newestAt) {
				newest, newestAt = snap, doc.Data.CreatedAt
			}
		}
		if !found {
			return nil
		}
		if err := tx.Delete(coll.Doc(id)); err != nil {
			return err
		}
		if wasDefault && newest != nil {
			return tx.Update(newest.Ref, []firestore.Update{
				{Path: "isDefault", Value: true},
				{Path: "updatedAt", Value: r.now().UTC()},
			})
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks one address default and clears every other.
func (r *AddressRepository) SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.addresses.Collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}
		var target *pfirestore.Document[addressDocument]
		others := make([]*firestore.DocumentSnapshot, 0, len(snaps))
		for _, snap := range snaps {
			if snap.Ref.ID != id {
				others = append(others, snap)
				continue
			}
			doc, err := r.addresses.Decode(snap)
			if err != nil {
				return err
			}
			target = &doc
		}
		if target == nil {
			return pfirestore.NotFound("addresses.setDefault", "address")
		}

		now := r.now().UTC()
		if err := tx.Update(coll.Doc(id), []firestore.Update{
			{Path: "isDefault", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if err := clearDefaults(tx, others, now); err != nil {
			return err
		}
		target.Data.IsDefault = true
		target.Data.UpdatedAt = now
		saved = target.Data.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.setDefault", err)
	}
	return saved, nil
}

func clearDefaults(tx *firestore.Transaction, snaps []*firestore.DocumentSnapshot, now time.Time) error {
	for _, snap := range snaps {
		isDefault, err := snap.DataAt("isDefault")
		if err != nil {
			continue
		}
		if flag, ok := isDefault.(bool); !ok || !flag {
			continue
		}
		if err := tx.Update(snap.Ref, []firestore.Update{
			{Path: "isDefault", Value: false},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
	}
	return nil
}

func sortAddresses(addrs []domain.Address) {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].IsDefault != addrs[j].IsDefault {
			return addrs[i].IsDefault
		}
		return addrs[i].CreatedAt.After(addrs[j].CreatedAt)
	})
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Street:     addr.Street,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    strings.ToUpper(addr.Country),
		IsDefault:  addr.IsDefault,
		CreatedAt:  addr.CreatedAt.UTC(),
		UpdatedAt:  addr.UpdatedAt.UTC(),
	}
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:         id,
		Street:     d.Street,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		IsDefault:  d.IsDefault,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
