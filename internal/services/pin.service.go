package services

import (
	"context"
	"regexp"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const pinCost = 10

var pinPattern = regexp.MustCompile(`^\d{6}$`)

type AccountRepository interface {
	Create(ctx context.Context, a *model.Account) (*model.Account, error)
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
}

type PinService struct {
	accounts AccountRepository
}

func NewPinService(accounts AccountRepository) *PinService {
	return &PinService{accounts: accounts}
}

// Verify answers whether pin belongs to username. Only store failures are
// returned as errors; every rejection is a PinResult with a message.
func (s *PinService) Verify(ctx context.Context, username, pin string) (model.PinResult, error) {
	if !pinPattern.MatchString(pin) {
		return model.PinResult{Valid: false, Message: "PIN must be 6 digits."}, nil
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return model.PinResult{Valid: false, Message: "User not found."}, nil
		}
		return model.PinResult{}, errors.Wrap(err, "verify pin")
	}
	if !account.Active {
		return model.PinResult{Valid: false, Message: "Account is not active."}, nil
	}
	if account.PinHash == "" {
		return model.PinResult{Valid: false, Message: "User does not have a PIN configured."}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PinHash), []byte(pin)); err != nil {
		return model.PinResult{Valid: false, Message: "Invalid PIN."}, nil
	}
	return model.PinResult{Valid: true, Message: "PIN verified successfully."}, nil
}

// CreateAccount stores a new active account with a bcrypt hash of pin.
func (s *PinService) CreateAccount(ctx context.Context, username, pin string) (*model.Account, error) {
	if !pinPattern.MatchString(pin) {
		return nil, ErrInvalidPinFormat
	}
	hash, err := HashPin(pin)
	if err != nil {
		return nil, err
	}
	return s.accounts.Create(ctx, &model.Account{Username: username, PinHash: hash, Active: true})
}

func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinCost)
	if err != nil {
		return "", errors.Wrap(err, "hash pin")
	}
	return string(hash), nil
}
