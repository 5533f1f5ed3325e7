// Package auth resolves and authorizes the caller of the invoice endpoint.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

// Gate verifies bearer credentials against the identity provider.
type Gate struct {
	verifier ports.TokenVerifier
}

func NewGate(verifier ports.TokenVerifier) *Gate {
	return &Gate{verifier: verifier}
}

// Authenticate parses the Authorization header and resolves the caller.
// A non-nil error means the provider could not be reached; classified
// rejections are returned as *entity.AppError.
func (g *Gate) Authenticate(ctx context.Context, header string) (entity.Caller, *entity.AppError, error) {
	token, ok := bearerToken(header)
	if !ok {
		return entity.Caller{}, entity.NewAppError(entity.CodeAuthMissing, "missing or malformed authorization header"), nil
	}

	caller, err := g.verifier.Verify(ctx, token)
	if err != nil {
		var verr *ports.VerificationError
		if !errors.As(err, &verr) {
			return entity.Caller{}, nil, err
		}
		if strings.Contains(strings.ToLower(verr.Message), "expired") {
			return entity.Caller{}, &entity.AppError{
				Code:    entity.CodeAuthExpired,
				Message: "session expired, please sign in again",
				Detail:  verr.Message,
			}, nil
		}
		return entity.Caller{}, &entity.AppError{
			Code:    entity.CodeAuthInvalid,
			Message: "invalid authentication token",
			Detail:  verr.Message,
		}, nil
	}
	return caller, nil, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
