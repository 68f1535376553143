package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/wrtctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
	}
	for in, want := range cases {
		got, ok := BearerToken(in)
		if !ok || got != want {
			t.Fatalf("BearerToken(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		if _, ok := BearerToken(in); ok {
			t.Fatalf("BearerToken(%q) should fail", in)
		}
	}
}

func TestRequireMiddleware(t *testing.T) {
	testlog.Start(t)
	r := gin.New()
	r.Use(Require(FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	}), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/connections", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path, header string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do("/health", ""); code != http.StatusOK {
		t.Fatalf("open path should pass, got %d", code)
	}
	if code := do("/connections", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing token should be rejected, got %d", code)
	}
	if code := do("/connections", "Bearer bad"); code != http.StatusUnauthorized {
		t.Fatalf("bad token should be rejected, got %d", code)
	}
	if code := do("/connections", "Bearer ok"); code != http.StatusOK {
		t.Fatalf("good token should pass, got %d", code)
	}
}
