package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/contest-notifier/internal/services"
)

func Test_fail_500_LogsCauseAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		failService(c, errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal || strings.Contains(resp.Message, "disk") {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "disk on fire") {
		t.Fatalf("expected error log with cause, got: %s", buf.String())
	}
}

func Test_failService_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", services.ErrUnknownContest), http.StatusBadRequest, ErrCodeContestNotFound},
		{services.ErrAlreadySubscribed, http.StatusBadRequest, ErrCodeAlreadySubscribed},
		{services.ErrPrincipalExists, http.StatusBadRequest, ErrCodeUserExists},
		{services.ErrInvalidCredentials, http.StatusBadRequest, ErrCodeInvalidCredentials},
		{fmt.Errorf("%w: email", services.ErrInvalidInput), http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrPrincipalNotFound, http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("%w: io", services.ErrRepository), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		failService(c, tc.err)

		var resp ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if w.Code != tc.status || resp.Code != tc.code {
			t.Errorf("%v -> %d %q, want %d %q", tc.err, w.Code, resp.Code, tc.status, tc.code)
		}
	}
}

func Test_Fail_And_SuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") })
	r.GET("/msg", func(c *gin.Context) { message(c, http.StatusCreated, "done") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if w.Code != http.StatusNotFound || er.RequestID != "rid-404" || er.Code != ErrCodeNotFound {
		t.Fatalf("unexpected 404: %d %+v", w.Code, er)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/msg", nil))
	var mr MessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &mr); err != nil {
		t.Fatalf("json 201: %v", err)
	}
	if w.Code != http.StatusCreated || mr.Message != "done" {
		t.Fatalf("unexpected body: %d %+v", w.Code, mr)
	}
}
