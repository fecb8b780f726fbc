package service

import (
	"context"
	"errors"
	"strings"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
)

// AddressStore persists a user's address book and keeps at most one
// default per user.
type AddressStore interface {
	List(ctx context.Context, userID uint64) ([]model.SavedAddress, error)
	Get(ctx context.Context, userID, id uint64) (*model.SavedAddress, error)
	Create(ctx context.Context, a *model.SavedAddress) error
	Update(ctx context.Context, a *model.SavedAddress) error
	Delete(ctx context.Context, userID, id uint64) error
}

type AddressInput struct {
	Label     string `json:"label" validate:"max=100"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"max=50"`
	Street    string `json:"street" validate:"required,max=255"`
	City      string `json:"city" validate:"required,max=100"`
	State     string `json:"state" validate:"max=100"`
	Zip       string `json:"zip" validate:"required,max=20"`
	Country   string `json:"country" validate:"required,max=100"`
	IsDefault bool   `json:"isDefault"`
}

type AddressService struct {
	repo      AddressStore
	validator *Validator
}

func NewAddressService(repo AddressStore) *AddressService {
	return &AddressService{repo: repo, validator: NewValidator()}
}

func (s *AddressService) List(ctx context.Context, userID uint64) ([]model.SavedAddress, error) {
	return s.repo.List(ctx, userID)
}

func (s *AddressService) build(userID uint64, in AddressInput) (*model.SavedAddress, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	return &model.SavedAddress{
		UserID:    userID,
		Label:     strings.TrimSpace(in.Label),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Phone:     strings.TrimSpace(in.Phone),
		Street:    strings.TrimSpace(in.Street),
		City:      strings.TrimSpace(in.City),
		State:     strings.TrimSpace(in.State),
		Zip:       strings.TrimSpace(in.Zip),
		Country:   strings.TrimSpace(in.Country),
		IsDefault: in.IsDefault,
	}, nil
}

// Create adds an address. The first address of a user becomes default.
func (s *AddressService) Create(ctx context.Context, userID uint64, in AddressInput) (*model.SavedAddress, error) {
	a, err := s.build(userID, in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AddressService) Update(ctx context.Context, userID, id uint64, in AddressInput) (*model.SavedAddress, error) {
	a, err := s.build(userID, in)
	if err != nil {
		return nil, err
	}
	a.ID = id
	if err := s.repo.Update(ctx, a); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errAddressNotFound
		}
		return nil, err
	}
	return a, nil
}

// Delete removes an address; deleting the default promotes the most
// recent remaining one.
func (s *AddressService) Delete(ctx context.Context, userID, id uint64) error {
	err := s.repo.Delete(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return errAddressNotFound
	}
	return err
}
