package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/api/activities/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/activities/"+id, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Contains(t, scrape(t), `activities_http_requests_total{method="GET",route="/api/activities/{id}",status="404"} 2`)
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerExposesProposalCounters(t *testing.T) {
	RecordProposal("held")
	RecordDecision("applied")

	body := scrape(t)
	assert.Contains(t, body, `activities_proposals_submitted_total{outcome="held"} 1`)
	assert.Contains(t, body, `activities_proposals_decisions_total{decision="applied"} 1`)
}
