package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/validation"
)

type stubAddressRepository struct {
	listFunc       func(ctx context.Context, userID string) ([]domain.Address, error)
	getFunc        func(ctx context.Context, userID, addressID string) (domain.Address, error)
	upsertFunc     func(ctx context.Context, userID string, addr domain.Address) (domain.Address, error)
	deleteFunc     func(ctx context.Context, userID, addressID string) error
	setDefaultFunc func(ctx context.Context, userID, addressID string) (domain.Address, error)
}

func (s *stubAddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID)
	}
	return nil, nil
}

func (s *stubAddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID, addressID)
	}
	return domain.Address{}, &repositoryErrorStub{notFound: true}
}

func (s *stubAddressRepository) Upsert(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, userID, addr)
	}
	return addr, nil
}

func (s *stubAddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID, addressID)
	}
	return nil
}

func (s *stubAddressRepository) SetDefault(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.setDefaultFunc != nil {
		return s.setDefaultFunc(ctx, userID, addressID)
	}
	return domain.Address{}, nil
}

func TestAddressServiceSaveSanitisesAndValidates(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	var saved domain.Address
	repo := &stubAddressRepository{
		upsertFunc: func(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			saved = addr
			addr.ID = "addr-new"
			addr.IsDefault = true
			return addr, nil
		},
	}
	svc, err := NewAddressService(AddressServiceDeps{Addresses: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewAddressService: %v", err)
	}

	out, err := svc.SaveAddress(context.Background(), SaveAddressCommand{
		UserID: " user-1 ",
		Address: domain.Address{
			Street:     "<b>221B</b>   Baker Street",
			City:       "London",
			State:      "Greater London",
			PostalCode: " nw1 6xe ",
			Country:    "gb",
		},
	})
	if err != nil {
		t.Fatalf("SaveAddress: %v", err)
	}
	if saved.Street != "221B Baker Street" || saved.PostalCode != "NW1 6XE" || saved.Country != "GB" {
		t.Fatalf("unexpected sanitised address %+v", saved)
	}
	if !saved.CreatedAt.Equal(now) || !saved.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps from clock, got %+v", saved)
	}
	if out.ID != "addr-new" || !out.IsDefault {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestAddressServiceSaveRejectsInvalidAddress(t *testing.T) {
	repo := &stubAddressRepository{
		upsertFunc: func(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
			t.Fatal("upsert must not be called")
			return domain.Address{}, nil
		},
	}
	svc, _ := NewAddressService(AddressServiceDeps{Addresses: repo})

	_, err := svc.SaveAddress(context.Background(), SaveAddressCommand{
		UserID:  "user-1",
		Address: domain.Address{Street: "<script>x</script>", City: "Austin", State: "TX", PostalCode: "78701", Country: "US"},
	})
	var vErr *validation.Error
	if !errors.As(err, &vErr) || vErr.Field != validation.FieldStreet {
		t.Fatalf("expected street validation error, got %v", err)
	}
}

func TestAddressServiceUpdateKeepsCreatedAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubAddressRepository{
		getFunc: func(ctx context.Context, userID, addressID string) (domain.Address, error) {
			return domain.Address{ID: addressID, CreatedAt: created}, nil
		},
	}
	svc, _ := NewAddressService(AddressServiceDeps{Addresses: repo})
	out, err := svc.SaveAddress(context.Background(), SaveAddressCommand{
		UserID:  "user-1",
		Address: domain.Address{ID: "addr-1", Street: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701", Country: "US"},
	})
	if err != nil {
		t.Fatalf("SaveAddress: %v", err)
	}
	if !out.CreatedAt.Equal(created) {
		t.Fatalf("expected created at preserved, got %v", out.CreatedAt)
	}
}

func TestAddressServiceTranslatesRepositoryErrors(t *testing.T) {
	repo := &stubAddressRepository{
		setDefaultFunc: func(ctx context.Context, userID, addressID string) (domain.Address, error) {
			return domain.Address{}, &repositoryErrorStub{notFound: true}
		},
		deleteFunc: func(ctx context.Context, userID, addressID string) error {
			return &repositoryErrorStub{unavailable: true}
		},
	}
	svc, _ := NewAddressService(AddressServiceDeps{Addresses: repo})
	ctx := context.Background()

	if _, err := svc.SetDefaultAddress(ctx, "user-1", "addr-x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.DeleteAddress(ctx, "user-1", "addr-x"); !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if err := svc.DeleteAddress(ctx, "", "addr-x"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
}
