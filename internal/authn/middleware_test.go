package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeValidator struct {
	accountID string
	err       error
}

func (f *fakeValidator) ValidateToken(string) (string, error) {
	return f.accountID, f.err
}

func newTestRouter(v Validator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mw := NewMiddleware(v)
	r.GET("/protected", mw.RequireAuth(), func(c *gin.Context) {
		accountID, _ := AccountID(c)
		c.String(http.StatusOK, accountID)
	})
	r.GET("/protected-uid", mw.RequireAuth(), func(c *gin.Context) {
		uid, _ := UID(c)
		c.String(http.StatusOK, uid)
	})
	return r
}

// fakeUIDValidator implements both Validator and UIDExtractor, so
// RequireAuth can resolve a uid distinct from the account id.
type fakeUIDValidator struct {
	accountID string
	uid       string
}

func (f *fakeUIDValidator) ValidateToken(string) (string, error) { return f.accountID, nil }
func (f *fakeUIDValidator) ExtractUID(string) (string, error)    { return f.uid, nil }

func TestRequireAuth_RejectsMissingHeader(t *testing.T) {
	r := newTestRouter(&fakeValidator{accountID: "acc1"})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_AcceptsValidBearerToken(t *testing.T) {
	r := newTestRouter(&fakeValidator{accountID: "acc1"})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "acc1" {
		t.Fatalf("expected account id in response body, got %q", w.Body.String())
	}
}

func TestRequireAuth_FallsBackToQueryTokenOnWebSocketUpgrade(t *testing.T) {
	r := newTestRouter(&fakeValidator{accountID: "acc1"})
	req := httptest.NewRequest(http.MethodGet, "/protected?token=ws-token", nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAuth_RejectsInvalidToken(t *testing.T) {
	r := newTestRouter(&fakeValidator{err: ErrInvalidToken})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_ResolvesUIDFromExtractor(t *testing.T) {
	r := newTestRouter(&fakeUIDValidator{accountID: "acc1", uid: "user-42"})
	req := httptest.NewRequest(http.MethodGet, "/protected-uid", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "user-42" {
		t.Fatalf("expected uid %q, got %q", "user-42", w.Body.String())
	}
}

func TestRequireAuth_FallsBackToAccountIDWhenValidatorCannotExtractUID(t *testing.T) {
	r := newTestRouter(&fakeValidator{accountID: "acc1"})
	req := httptest.NewRequest(http.MethodGet, "/protected-uid", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "acc1" {
		t.Fatalf("expected fallback to account id %q, got %q", "acc1", w.Body.String())
	}
}
