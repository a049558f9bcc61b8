package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := New(KindBoundDegenerate, "lo >= hi for feed_rate_tph")
	wrapped := fmt.Errorf("safety run: %w", base)

	assert.Equal(t, KindBoundDegenerate, KindOf(base))
	assert.Equal(t, KindBoundDegenerate, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("optimize: %w", Errorf(KindDataInsufficient, "have %d snapshots, need %d", 2, 5))

	assert.True(t, stderrors.Is(err, ErrDataInsufficient))
	assert.False(t, stderrors.Is(err, ErrBoundDegenerate))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindUpstreamUnavailable, "redis"))

	cause := stderrors.New("connection refused")
	err := Wrap(cause, KindUpstreamUnavailable, "fetch operating limits").WithComponent("bounds")

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, "fetch operating limits, component=bounds: connection refused", err.Error())
	assert.NotEmpty(t, err.StackTrace())
}

func TestErrorStringFallsBackToKind(t *testing.T) {
	assert.Equal(t, "model_untrained", (&Error{Kind: KindModelUntrained}).Error())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid request", New(KindInvalidRequest, "bad"), http.StatusBadRequest},
		{"data insufficient", New(KindDataInsufficient, "short"), http.StatusUnprocessableEntity},
		{"bound degenerate", New(KindBoundDegenerate, "lo>=hi"), http.StatusUnprocessableEntity},
		{"upstream", New(KindUpstreamUnavailable, "down"), http.StatusBadGateway},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, New(KindDataInsufficient, "need more history"))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.JSONEq(t, `{"error":"need more history","kind":"data_insufficient"}`, rr.Body.String())
}
