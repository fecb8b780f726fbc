package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndHandler(t *testing.T) {
	before := testutil.ToFloat64(Reservations.WithLabelValues("created"))
	Reservations.WithLabelValues("created").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Reservations.WithLabelValues("created")))

	OutboxPending.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(OutboxPending))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_reservations_total")
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("x")))
}
