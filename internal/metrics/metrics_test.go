package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	require.NotPanics(t, Init)
	require.NotPanics(t, Init)
}

func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	before := testutil.ToFloat64(BidsAccepted.WithLabelValues("manual"))
	BidsAccepted.WithLabelValues("manual").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(BidsAccepted.WithLabelValues("manual")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "auction_bids_accepted_total"))
}
