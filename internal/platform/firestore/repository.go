package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with its update timestamp.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// ScopedCollection gives typed access to a per-owner sub-collection such as
// users/{uid}/cart_items. The path pattern takes the owner id as its only verb.
type ScopedCollection[T any] struct {
	provider *Provider
	pattern  string
	encode   Encoder[T]
	decode   Decoder[T]
}

// NewScopedCollection binds a typed collection to the provider. Nil codecs fall back to
// Firestore's native struct mapping.
func NewScopedCollection[T any](provider *Provider, pattern string, encode Encoder[T], decode Decoder[T]) *ScopedCollection[T] {
	if encode == nil {
		encode = func(value T) (any, error) { return value, nil }
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &ScopedCollection[T]{
		provider: provider,
		pattern:  strings.TrimSpace(pattern),
		encode:   encode,
		decode:   decode,
	}
}

// Collection resolves the collection reference for owner.
func (c *ScopedCollection[T]) Collection(ctx context.Context, owner string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("firestore: owner id is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.op("client"), err)
	}
	return client.Collection(fmt.Sprintf(c.pattern, owner)), nil
}

// Doc resolves a document reference under owner's collection.
func (c *ScopedCollection[T]) Doc(ctx context.Context, owner, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("firestore: document id is required")
	}
	coll, err := c.Collection(ctx, owner)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes one document.
func (c *ScopedCollection[T]) Get(ctx context.Context, owner, id string) (Document[T], error) {
	doc, err := c.Doc(ctx, owner, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.Decode(snap)
}

// Set replaces the document with value.
func (c *ScopedCollection[T]) Set(ctx context.Context, owner, id string, value T) error {
	doc, err := c.Doc(ctx, owner, id)
	if err != nil {
		return err
	}
	payload, err := c.Encode(value)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, payload); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Delete removes the document; deleting a missing document succeeds.
func (c *ScopedCollection[T]) Delete(ctx context.Context, owner, id string) error {
	doc, err := c.Doc(ctx, owner, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(c.op("delete"), err)
	}
	return nil
}

// Query runs a query over owner's collection.
func (c *ScopedCollection[T]) Query(ctx context.Context, owner string, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.Collection(ctx, owner)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()
	return c.drain(iter)
}

// Watch streams query results to fn until ctx ends or the listener fails. Each call to fn
// receives the complete current result set.
func (c *ScopedCollection[T]) Watch(ctx context.Context, owner string, build QueryBuilder, fn func([]Document[T])) error {
	coll, err := c.Collection(ctx, owner)
	if err != nil {
		return err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	snapshots := query.Snapshots(ctx)
	defer snapshots.Stop()

	for {
		snap, err := snapshots.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return WrapError(c.op("watch"), err)
		}
		docs, err := c.drain(snap.Documents)
		if err != nil {
			return err
		}
		fn(docs)
	}
}

// Encode runs the collection encoder, for use inside transactions.
func (c *ScopedCollection[T]) Encode(value T) (any, error) {
	payload, err := c.encode(value)
	if err != nil {
		return nil, fmt.Errorf("firestore: encode %s: %w", c.pattern, err)
	}
	return payload, nil
}

// Decode runs the collection decoder, for use inside transactions.
func (c *ScopedCollection[T]) Decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := c.decode(snap)
	if err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: entity, UpdateTime: snap.UpdateTime}, nil
}

func (c *ScopedCollection[T]) drain(iter *firestore.DocumentIterator) ([]Document[T], error) {
	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := c.Decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func (c *ScopedCollection[T]) op(action string) string {
	name := strings.ReplaceAll(c.pattern, "/%s/", ".")
	if name == "" {
		name = "firestore"
	}
	return name + "." + action
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
