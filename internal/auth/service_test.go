package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"campuswell/internal/models"
)

const testSecret = "test-secret-0123456789"

func TestIssueAndVerifyToken(t *testing.T) {
	svc := NewService(testSecret, "campuswell", time.Hour)
	user := &models.User{
		ID:             "u-1",
		DisplayName:    "Sam",
		Role:           models.RoleModerator,
		AgeBracket:     models.AgeMinor,
		ConsentMinorOK: true,
	}
	token, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	identity, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if identity.UserID != "u-1" || identity.Role != models.RoleModerator {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.AgeBracket != models.AgeMinor || !identity.ConsentMinorOK || identity.DisplayName != "Sam" {
		t.Fatalf("claims not carried: %+v", identity)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	svc := NewService(testSecret, "", time.Hour)
	other := NewService("another-secret-0123456789", "", time.Hour)
	foreign, _ := other.IssueToken(&models.User{ID: "u-2"})

	expired := NewService(testSecret, "", time.Hour)
	expired.tokenTTL = -time.Minute
	stale, _ := expired.IssueToken(&models.User{ID: "u-3"})

	noID, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: models.RoleStudent}).SignedString([]byte(testSecret))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "u-4"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"foreign":   foreign,
		"expired":   stale,
		"missingID": noID,
		"algNone":   none,
	} {
		if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyTokenDefaultsRole(t *testing.T) {
	svc := NewService(testSecret, "", time.Hour)
	token, _ := svc.IssueToken(&models.User{ID: "u-5"})
	identity, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Role != models.RoleStudent {
		t.Fatalf("expected student role, got %s", identity.Role)
	}
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(testSecret, "", time.Hour)
	router := gin.New()
	router.GET("/mod", svc.Middleware(), RequireRole(models.RoleModerator, models.RoleAdmin), func(c *gin.Context) {
		identity, _ := IdentityFromContext(c)
		c.String(http.StatusOK, identity.UserID)
	})

	student, _ := svc.IssueToken(&models.User{ID: "s-1", Role: models.RoleStudent})
	admin, _ := svc.IssueToken(&models.User{ID: "a-1", Role: models.RoleAdmin})

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad", "Bearer nope", "", http.StatusUnauthorized},
		{"student", "Bearer " + student, "", http.StatusForbidden},
		{"admin header", "Bearer " + admin, "", http.StatusOK},
		{"admin query", "", admin, http.StatusOK},
	}
	for _, tc := range cases {
		url := "/mod"
		if tc.query != "" {
			url += "?token=" + tc.query
		}
		req := httptest.NewRequest(http.MethodGet, url, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: want %d got %d (%s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}
