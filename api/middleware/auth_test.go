package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgauth "github.com/amaruortiz/vendora-backend/pkg/auth"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:    "test-secret",
		Issuer:    "vendora",
		AccessTTL: time.Hour,
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	mw := Auth(testJWTConfig(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	mw := Auth(testJWTConfig(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAuthSeedsActorContext(t *testing.T) {
	cfg := testJWTConfig()
	vendorID := uuid.New()
	userID := uuid.New()

	token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.AccessTokenPayload{
		UserID:   userID,
		Role:     enums.RoleVendor,
		VendorID: &vendorID,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	mw := Auth(cfg, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		if actor.UserID != userID {
			t.Fatalf("expected user id %s got %s", userID, actor.UserID)
		}
		if actor.Role != enums.RoleVendor {
			t.Fatalf("expected vendor role got %s", actor.Role)
		}
		if actor.VendorID == nil || *actor.VendorID != vendorID {
			t.Fatalf("expected vendor id %s", vendorID)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendor/balance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRequireRoleBlocksOtherRoles(t *testing.T) {
	mw := RequireRole("admin", nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/payouts", nil)
	req = req.WithContext(WithActor(req.Context(), types.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}))
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}
