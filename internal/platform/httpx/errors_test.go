package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind   error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrDuplicate, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrUnprocessable, http.StatusUnprocessableEntity},
		{ErrConflict, http.StatusConflict},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.kind.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, Classify(tt.kind, errors.New("account 7 is busy")))

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tt.status, problem.Status)
			assert.Equal(t, "account 7 is busy", problem.Detail)
		})
	}
}

func TestRespondErrorHidesUnclassifiedDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused to 10.0.0.5"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Empty(t, problem.Detail)
}

func TestClassifyKeepsBothChains(t *testing.T) {
	domain := errors.New("trust: not found")
	err := Classify(ErrNotFound, fmt.Errorf("load account: %w", domain))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domain)
	assert.Equal(t, "load account: trust: not found", err.Error())
	assert.NoError(t, Classify(ErrNotFound, nil))
}
