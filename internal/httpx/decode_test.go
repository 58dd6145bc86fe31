package httpx

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

type testRequest struct {
	URL   string  `json:"url" validate:"required,max=64"`
	Title *string `json:"title,omitempty" validate:"omitempty,max=10"`
	Limit int     `json:"limit" validate:"gte=0,lte=100"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantErr     bool
		errContains string
		validate    func(*testing.T, testRequest)
	}{
		{
			name: "valid JSON",
			body: `{"url":"https://example.com","title":"Example","limit":5}`,
			validate: func(t *testing.T, req testRequest) {
				if req.URL != "https://example.com" {
					t.Errorf("expected url 'https://example.com', got %q", req.URL)
				}
				if req.Title == nil || *req.Title != "Example" {
					t.Errorf("expected title 'Example', got %v", req.Title)
				}
				if req.Limit != 5 {
					t.Errorf("expected limit 5, got %d", req.Limit)
				}
			},
		},
		{
			name: "optional pointer stays nil when omitted",
			body: `{"url":"https://example.com"}`,
			validate: func(t *testing.T, req testRequest) {
				if req.Title != nil {
					t.Errorf("expected nil title, got %q", *req.Title)
				}
			},
		},
		{
			name:        "empty body",
			body:        "",
			wantErr:     true,
			errContains: "request body is empty",
		},
		{
			name:        "malformed JSON - missing quote",
			body:        `{"url":"https://example.com,"limit":1}`,
			wantErr:     true,
			errContains: "malformed JSON",
		},
		{
			name:        "malformed JSON - trailing comma",
			body:        `{"url":"https://example.com",}`,
			wantErr:     true,
			errContains: "malformed JSON",
		},
		{
			name:        "truncated JSON",
			body:        `{"url":`,
			wantErr:     true,
			errContains: "malformed JSON",
		},
		{
			name:        "unknown field",
			body:        `{"url":"https://example.com","custom_code":"abc"}`,
			wantErr:     true,
			errContains: "unknown",
		},
		{
			name:        "invalid type for field",
			body:        `{"url":"https://example.com","limit":"five"}`,
			wantErr:     true,
			errContains: "invalid value for field",
		},
		{
			name:        "multiple JSON objects",
			body:        `{"url":"https://a.example"}{"url":"https://b.example"}`,
			wantErr:     true,
			errContains: "multiple JSON objects",
		},
		{
			name:        "body too large",
			body:        `{"url":"` + strings.Repeat("x", MaxRequestBodySize+1) + `"}`,
			wantErr:     true,
			errContains: "request body too large",
		},
		{
			name:        "missing required field",
			body:        `{"limit":1}`,
			wantErr:     true,
			errContains: "url is required",
		},
		{
			name:        "field over max length",
			body:        `{"url":"https://example.com","title":"far too long a title"}`,
			wantErr:     true,
			errContains: "title must be at most 10 characters",
		},
		{
			name:        "number out of range",
			body:        `{"url":"https://example.com","limit":500}`,
			wantErr:     true,
			errContains: "limit must be less than or equal to 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			result, err := DecodeJSON[testRequest](rr, req)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error to contain %q, got %q", tt.errContains, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.validate != nil {
				tt.validate(t, result)
			}
		})
	}
}

func TestDecodeJSON_ValidationErrorFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", strings.NewReader(`{"limit":-1}`))

	_, err := DecodeJSON[testRequest](httptest.NewRecorder(), req)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	if len(verr.Fields) != 2 {
		t.Fatalf("expected 2 field errors, got %d: %+v", len(verr.Fields), verr.Fields)
	}

	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	if !fields["url"] || !fields["limit"] {
		t.Errorf("expected url and limit field errors, got %+v", verr.Fields)
	}
}

func TestDecodeJSON_NonStructSkipsValidation(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", strings.NewReader(`{"a":"b"}`))

	got, err := DecodeJSON[map[string]string](httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["a"] != "b" {
		t.Errorf("expected a=b, got %v", got)
	}
}

func TestDecodeJSON_ZeroValueOnError(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", strings.NewReader("invalid json"))

	result, err := DecodeJSON[testRequest](httptest.NewRecorder(), req)

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if result.URL != "" || result.Title != nil || result.Limit != 0 {
		t.Errorf("expected zero value on error, got %+v", result)
	}
}

func TestDecodeJSON_ClosesBody(t *testing.T) {
	body := &testReadCloser{
		Reader: strings.NewReader(`{"url":"https://example.com"}`),
	}

	req := httptest.NewRequest("POST", "/test", body)

	if _, err := DecodeJSON[testRequest](httptest.NewRecorder(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !body.closed {
		t.Error("expected body to be closed")
	}
}

// testReadCloser helps verify that body is closed
type testReadCloser struct {
	io.Reader
	closed bool
}

func (t *testReadCloser) Close() error {
	t.closed = true
	return nil
}
