package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

type mockVerifier struct {
	VerifyFunc func(ctx context.Context, token string) (entity.Caller, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (entity.Caller, error) {
	return m.VerifyFunc(ctx, token)
}

func TestGate_Authenticate(t *testing.T) {
	verifier := &mockVerifier{VerifyFunc: func(_ context.Context, token string) (entity.Caller, error) {
		switch token {
		case "good":
			return entity.Caller{ID: "user-1", Email: "ops@example.org"}, nil
		case "old":
			return entity.Caller{}, &ports.VerificationError{Status: 401, Message: "invalid JWT: token is expired"}
		case "down":
			return entity.Caller{}, errors.New("dial tcp: connection refused")
		default:
			return entity.Caller{}, &ports.VerificationError{Status: 401, Message: "invalid JWT: signature is invalid"}
		}
	}}
	gate := NewGate(verifier)

	tests := []struct {
		name     string
		header   string
		wantCode entity.ErrorCode
		wantErr  bool
	}{
		{"valid", "Bearer good", "", false},
		{"lowercase scheme", "bearer good", "", false},
		{"empty", "", entity.CodeAuthMissing, false},
		{"basic scheme", "Basic abc", entity.CodeAuthMissing, false},
		{"bearer without token", "Bearer   ", entity.CodeAuthMissing, false},
		{"expired", "Bearer old", entity.CodeAuthExpired, false},
		{"invalid", "Bearer forged", entity.CodeAuthInvalid, false},
		{"provider down", "Bearer down", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, appErr, err := gate.Authenticate(context.Background(), tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected transport error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantCode == "" {
				if appErr != nil {
					t.Fatalf("unexpected rejection: %v", appErr)
				}
				if caller.ID != "user-1" {
					t.Errorf("caller = %+v", caller)
				}
				return
			}
			if appErr == nil || appErr.Code != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, appErr)
			}
		})
	}
}

type mockRoles struct {
	calls   int
	granted map[string]bool
	err     error
}

func (m *mockRoles) HasActiveRole(_ context.Context, userID, role string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return role == RoleInvoicer && m.granted[userID], nil
}

type memCache struct {
	values map[string]string
}

func (c *memCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.values[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	return c.values[key], nil
}

func (c *memCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("test:%s:%s", operation, key)
}

func (c *memCache) Close() error { return nil }

func TestAuthorizer_DeniesWithoutRole(t *testing.T) {
	a := NewAuthorizer(&mockRoles{granted: map[string]bool{}}, nil, 0)

	appErr, err := a.Authorize(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appErr == nil || appErr.Code != entity.CodeUnauthorized {
		t.Fatalf("expected %s, got %v", entity.CodeUnauthorized, appErr)
	}
}

func TestAuthorizer_CachesPositiveAnswers(t *testing.T) {
	roles := &mockRoles{granted: map[string]bool{"user-1": true}}
	a := NewAuthorizer(roles, &memCache{values: map[string]string{}}, time.Minute)

	for i := 0; i < 3; i++ {
		appErr, err := a.Authorize(context.Background(), "user-1")
		if err != nil || appErr != nil {
			t.Fatalf("call %d: appErr=%v err=%v", i, appErr, err)
		}
	}
	if roles.calls != 1 {
		t.Errorf("role store called %d times, want 1", roles.calls)
	}
}

func TestAuthorizer_StoreError(t *testing.T) {
	a := NewAuthorizer(&mockRoles{err: errors.New("db down")}, nil, 0)
	if _, err := a.Authorize(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
}
