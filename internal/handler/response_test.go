package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tenant-accounts/internal/apperror"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantKind    string
		wantField   string
		wantMessage string
	}{
		{
			name:       "validation carries field",
			err:        apperror.PasswordTooShort(8),
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation_error",
			wantField:  "password",
		},
		{
			name:       "not found",
			err:        fmt.Errorf("service: %w", apperror.NotFound("user", "abc")),
			wantStatus: http.StatusNotFound,
			wantKind:   "not_found",
		},
		{
			name:       "email taken is conflict",
			err:        apperror.EmailTaken("a@x.com"),
			wantStatus: http.StatusConflict,
			wantKind:   "conflict",
			wantField:  "email",
		},
		{
			name:       "last admin is invariant violation",
			err:        apperror.LastAdmin("abc"),
			wantStatus: http.StatusConflict,
			wantKind:   "invariant_violation",
		},
		{
			name:       "forbidden",
			err:        apperror.Forbidden("nope"),
			wantStatus: http.StatusForbidden,
			wantKind:   "forbidden",
		},
		{
			name:        "partial deletion hides its cause",
			err:         apperror.PartialDeletion("abc", "purge invites", apperror.NotFound("invite", "x")),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "partial_deletion",
			wantMessage: "An internal error occurred",
		},
		{
			name:        "internal hides details",
			err:         apperror.Internal("inserting user", errors.New("SQL logic error near users")),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "internal_error",
			wantMessage: "An internal error occurred",
		},
		{
			name:        "untyped error is internal",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "internal_error",
			wantMessage: "An internal error occurred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantKind, body.Error)
			assert.Equal(t, tt.wantField, body.Field)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body.Message)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"name":"a"}`, true},
		{"malformed", `{"name":`, false},
		{"unknown field", `{"name":"a","admin":true}`, false},
		{"trailing data", `{"name":"a"}{"name":"b"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var p payload
			assert.Equal(t, tt.ok, decodeJSON(rr, req, &p))
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, rr.Code)
			}
		})
	}
}
