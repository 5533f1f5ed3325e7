package identity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q", got)
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = io.WriteString(w, `{"id":"user-1","email":"ops@example.com","role":"authenticated"}`)
		case "Bearer expired":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":401,"msg":"invalid JWT: unable to parse or verify signature, token is expired by 5m"}`)
		case "Bearer broken":
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":"bad_jwt","error_description":"malformed token"}`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	v := NewGoTrueVerifier(srv.URL+"/", "anon-key", time.Second, srv.Client())

	caller, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("good token: %v", err)
	}
	if caller.ID != "user-1" || caller.Email != "ops@example.com" {
		t.Errorf("caller = %+v", caller)
	}

	tests := []struct {
		token   string
		wantMsg string
	}{
		{"expired", "invalid JWT: unable to parse or verify signature, token is expired by 5m"},
		{"broken", "malformed token"},
	}
	for _, tt := range tests {
		_, err := v.Verify(context.Background(), tt.token)
		var ve *ports.VerificationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected VerificationError, got %v", tt.token, err)
		}
		if ve.Message != tt.wantMsg {
			t.Errorf("%s: message = %q", tt.token, ve.Message)
		}
	}

	_, err = v.Verify(context.Background(), "provider-down")
	var ve *ports.VerificationError
	if err == nil || errors.As(err, &ve) {
		t.Errorf("provider failure should be a plain error, got %v", err)
	}
}
