package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/buypoint/checkout/internal/domain"
)

// Translate maps repository failures onto the domain taxonomy, keeping the original
// error in the chain.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrInternal, err)
}

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
