package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode_MapsEveryKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not_found", NotFound("missing"), http.StatusNotFound},
		{"validation", Validation("bad input"), http.StatusBadRequest},
		{"external_service", External("upstream down", nil), http.StatusBadGateway},
		{"pipeline", Pipeline("stage failed", nil), http.StatusInternalServerError},
		{"timeout", Timeout("too slow"), http.StatusGatewayTimeout},
		{"critical", Critical("unexpected", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusCode(tc.err))
		})
	}
}

func TestStatusCode_NonAppErrDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain error")))
}

func TestError_MessageIncludesWrappedCause(t *testing.T) {
	wrapped := Wrap(KindCritical, "failed to do thing", errors.New("disk full"))
	assert.Equal(t, "failed to do thing: disk full", wrapped.Error())
}

func TestError_MessageAloneWithoutCause(t *testing.T) {
	err := New(KindValidation, "field required")
	assert.Equal(t, "field required", err.Error())
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Wrap(KindExternalService, "upstream failed", cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestAs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("context: %w", NotFound("channel not found"))
	assert.True(t, As(err, KindNotFound))
	assert.False(t, As(err, KindValidation))
}

func TestAs_FalseForPlainError(t *testing.T) {
	assert.False(t, As(errors.New("plain"), KindCritical))
}
