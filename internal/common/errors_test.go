package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   int
	}{
		{fmt.Errorf("%w: message is empty", ErrValidation), http.StatusBadRequest, 40001},
		{fmt.Errorf("%w: session", ErrNotFound), http.StatusNotFound, 40004},
		{ErrForbidden, http.StatusForbidden, 40301},
		{fmt.Errorf("wrap: %w", fmt.Errorf("%w: closed", ErrConflict)), http.StatusConflict, 40901},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, 50301},
		{errors.New("disk on fire"), http.StatusInternalServerError, 50001},
	}
	for _, tc := range cases {
		status, code := HTTPStatus(tc.err)
		if status != tc.wantStatus || code != tc.wantCode {
			t.Fatalf("HTTPStatus(%v) = %d/%d, want %d/%d", tc.err, status, code, tc.wantStatus, tc.wantCode)
		}
	}
}

func TestNewULID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewULID()
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if len(id) != 26 || seen[id] {
			t.Fatalf("bad or duplicate id %q", id)
		}
		seen[id] = true
	}
}
