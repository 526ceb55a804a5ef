package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/repositories"
	"github.com/buypoint/checkout/internal/validation"
)

var (
	errAddressUserRequired = fmt.Errorf("address service: user id is required: %w", domain.ErrNotAuthenticated)
	errAddressIDRequired   = fmt.Errorf("address service: address id is required: %w", domain.ErrInvalidArgument)
)

// AddressServiceDeps wires the address service.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	policy    *bluemonday.Policy
}

// NewAddressService constructs an AddressService.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &addressService{
		addresses: deps.Addresses,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		policy:    bluemonday.StrictPolicy(),
	}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]domain.Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errAddressUserRequired
	}
	addrs, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, repositories.Translate(err)
	}
	return addrs, nil
}

func (s *addressService) GetAddress(ctx context.Context, userID, addressID string) (domain.Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" {
		return domain.Address{}, errAddressUserRequired
	}
	if addressID == "" {
		return domain.Address{}, errAddressIDRequired
	}
	addr, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return domain.Address{}, repositories.Translate(err)
	}
	return addr, nil
}

// SaveAddress strips markup from every field, validates the result and stores it. The
// first address a user saves becomes the default.
func (s *addressService) SaveAddress(ctx context.Context, cmd SaveAddressCommand) (domain.Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Address{}, errAddressUserRequired
	}

	addr := s.sanitize(cmd.Address)
	if err := validation.Address(addr); err != nil {
		return domain.Address{}, err
	}

	now := s.now()
	if addr.ID != "" {
		existing, err := s.addresses.Get(ctx, userID, addr.ID)
		if err != nil {
			return domain.Address{}, repositories.Translate(err)
		}
		addr.CreatedAt = existing.CreatedAt
	} else {
		addr.CreatedAt = now
	}
	addr.UpdatedAt = now

	saved, err := s.addresses.Upsert(ctx, userID, addr)
	if err != nil {
		return domain.Address{}, repositories.Translate(err)
	}
	s.logger(ctx, "address.saved", map[string]any{"userID": userID, "addressID": saved.ID, "default": saved.IsDefault})
	return saved, nil
}

func (s *addressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" {
		return errAddressUserRequired
	}
	if addressID == "" {
		return errAddressIDRequired
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return repositories.Translate(err)
	}
	s.logger(ctx, "address.deleted", map[string]any{"userID": userID, "addressID": addressID})
	return nil
}

func (s *addressService) SetDefaultAddress(ctx context.Context, userID, addressID string) (domain.Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" {
		return domain.Address{}, errAddressUserRequired
	}
	if addressID == "" {
		return domain.Address{}, errAddressIDRequired
	}
	addr, err := s.addresses.SetDefault(ctx, userID, addressID)
	if err != nil {
		return domain.Address{}, repositories.Translate(err)
	}
	return addr, nil
}

func (s *addressService) sanitize(addr domain.Address) domain.Address {
	return domain.Address{
		ID:         strings.TrimSpace(addr.ID),
		Street:     s.clean(addr.Street),
		City:       s.clean(addr.City),
		State:      s.clean(addr.State),
		PostalCode: strings.ToUpper(s.clean(addr.PostalCode)),
		Country:    strings.ToUpper(s.clean(addr.Country)),
		IsDefault:  addr.IsDefault,
	}
}

// clean drops any markup and collapses whitespace runs.
func (s *addressService) clean(value string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(value))
	return strings.Join(strings.Fields(stripped), " ")
}
