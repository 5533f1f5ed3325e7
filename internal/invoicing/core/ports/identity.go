package ports

import (
	"context"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

// TokenVerifier resolves a bearer token to a caller via the identity provider.
// Verification failures are returned as *VerificationError.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (entity.Caller, error)
}

// VerificationError carries the provider's rejection text, which is used to
// tell expired tokens from otherwise invalid ones.
type VerificationError struct {
	Status  int
	Message string
}

func (e *VerificationError) Error() string {
	return "token rejected: " + e.Message
}
