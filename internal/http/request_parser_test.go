package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"budget/internal/core"
	"budget/internal/services"
)

func TestParseCategorizeRequest(t *testing.T) {
	oct := core.MonthKey{Year: 2025, Month: 10}
	tests := []struct {
		name       string
		body       string
		wantAll    bool
		wantMonths []core.MonthKey
		wantPolicy core.ImportPolicy
		wantErr    error
	}{
		{name: "list defaults to merge", body: `{"months": ["2025-10"]}`, wantMonths: []core.MonthKey{oct}, wantPolicy: core.PolicyMerge},
		{name: "all replace", body: `{"months": "all", "policy": "REPLACE"}`, wantAll: true, wantPolicy: core.PolicyReplace},
		{name: "all mixed case", body: `{"months": " All "}`, wantAll: true, wantPolicy: core.PolicyMerge},
		{name: "single month string", body: `{"months": "2025-10"}`, wantMonths: []core.MonthKey{oct}, wantPolicy: core.PolicyMerge},
		{name: "bad policy", body: `{"months": "all", "policy": "append"}`, wantErr: core.ErrInvalidPolicy},
		{name: "bad month", body: `{"months": ["2025-1x"]}`, wantErr: core.ErrInvalidMonth},
		{name: "empty list", body: `{"months": []}`, wantErr: services.ErrNoMonths},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseCategorizeRequest(strings.NewReader(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.All != tt.wantAll {
				t.Errorf("All = %v, want %v", req.All, tt.wantAll)
			}
			if req.Policy != tt.wantPolicy {
				t.Errorf("Policy = %q, want %q", req.Policy, tt.wantPolicy)
			}
			if len(req.Months) != len(tt.wantMonths) {
				t.Fatalf("Months = %v, want %v", req.Months, tt.wantMonths)
			}
			for i := range req.Months {
				if req.Months[i] != tt.wantMonths[i] {
					t.Errorf("Months[%d] = %v, want %v", i, req.Months[i], tt.wantMonths[i])
				}
			}
		})
	}
}

func TestParseCategorizeRequest_RequestErrors(t *testing.T) {
	for _, body := range []string{``, `{`, `{"policy": "merge"}`, `{"months": null}`, `{"months": 12}`} {
		_, err := parseCategorizeRequest(strings.NewReader(body))
		var reqErr *requestError
		if !errors.As(err, &reqErr) {
			t.Errorf("body %q: err = %v, want requestError", body, err)
		}
		if got := statusFor(err); got != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, got)
		}
	}
}

func TestParseCorrection(t *testing.T) {
	c, err := parseCorrection(strings.NewReader(`{"category": "CHOICE", "subcategory": "Hobbies"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Category != "CHOICE" || c.Subcategory != "Hobbies" {
		t.Errorf("got %+v", c)
	}
	if _, err := parseCorrection(strings.NewReader(`{"category": "  "}`)); err == nil {
		t.Error("blank category accepted")
	}
}

func TestIDFromPath(t *testing.T) {
	tests := []struct {
		id   string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"x", 0, false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPatch, "/api/transactions/"+tt.id, nil)
		r.SetPathValue("id", tt.id)
		got, err := idFromPath(r)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("idFromPath(%q) = %d, %v", tt.id, got, err)
		}
	}
}

func TestReadUpload_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader("  \n"))
	_, err := readUpload(httptest.NewRecorder(), r, 1024)
	if !errors.Is(err, errEmptyUpload) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrUploadNotFound, http.StatusNotFound},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{core.ErrSubcategoryNotAllowed, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
