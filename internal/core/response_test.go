package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"companion/internal/types"
)

func TestError_AppErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	Error(rec, req, types.NewQuotaExceeded(5))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("quota errors must set Retry-After")
	}
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != string(types.ErrCodeLimitDailyMessages) || body.Error.RequestID != "req-1" {
		t.Errorf("body: %+v", body.Error)
	}
	if body.Error.Details["limit"] != float64(5) {
		t.Errorf("details: %+v", body.Error.Details)
	}
}

func TestError_GenericErrorIsHidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"mika"}`, false},
		{"empty", ``, true},
		{"syntax", `{"name":`, true},
		{"unknown field", `{"name":"a","x":1}`, true},
		{"two values", `{"name":"a"}{"name":"b"}`, true},
		{"wrong type", `{"name":7}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var appErr *types.AppError
			if err != nil && (!errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationInvalidRequest) {
				t.Errorf("want validation AppError, got %v", err)
			}
		})
	}
}

func TestDecodeJSON_FieldDetails(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		body   string
		field  string
		reason string
	}{
		{`{"name":"a","persona":1}`, "persona", "unknown"},
		{`{"name":7}`, "name", "type"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(), req, &dst)

		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			t.Fatalf("%s: want AppError, got %v", tt.body, err)
		}
		fields, _ := appErr.Details["fields"].(map[string]string)
		if fields[tt.field] != tt.reason {
			t.Errorf("%s: fields = %v, want %s=%s", tt.body, appErr.Details, tt.field, tt.reason)
		}
	}
}

func TestSecondsUntilUTCMidnight(t *testing.T) {
	now := time.Date(2026, 5, 1, 23, 59, 30, 0, time.UTC)
	if got := secondsUntilUTCMidnight(now); got != 30 {
		t.Errorf("got %d, want 30", got)
	}
}
