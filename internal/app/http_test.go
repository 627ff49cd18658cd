package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/domain"
	"reviewcore/internal/metrics"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
	"reviewcore/internal/search"
)

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestThingRouteResolution(t *testing.T) {
	api := &fakeAPI{
		resolveThingFn: func(_ context.Context, requestPath, rawQuery, candidate string) (*model.Thing, error) {
			switch candidate {
			case "dune":
				th := &model.Thing{Label: mlstring.String{"en": "Dune"}, CanonicalSlugName: "dune"}
				th.ID = "t1"
				return th, nil
			case "dune-old":
				return nil, &domain.RedirectedError{Target: "/api/things/dune?" + rawQuery}
			}
			return nil, domain.NotFoundError{Table: "things", ID: candidate}
		},
	}
	h := newTestServer(api).Handler()

	rr := serve(t, h, "/api/things/dune")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "t1", decode(t, rr)["id"])

	rr = serve(t, h, "/api/things/dune-old?lang=de&page=2")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/api/things/dune?lang=de&page=2", rr.Header().Get("Location"))
	body := decode(t, rr)
	assert.Equal(t, "REDIRECT", body["code"])
	assert.Equal(t, "/api/things/dune?lang=de&page=2", body["details"])

	rr = serve(t, h, "/api/things/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rr)["code"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newTestServer(&fakeAPI{}).Handler()

	assert.Equal(t, http.StatusNotFound, serve(t, h, "/api/nothing/here").Code)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/health", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestFeedRouteParsesPaging(t *testing.T) {
	var got FeedQuery
	next := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		feedFn: func(_ context.Context, q FeedQuery) (revision.FeedPage[*model.Review], error) {
			got = q
			r := &model.Review{StarRating: 4}
			r.ID = "r1"
			return revision.FeedPage[*model.Review]{Items: []*model.Review{r}, OffsetDate: &next, OffsetID: "rev-9"}, nil
		},
	}
	h := newTestServer(api).Handler()

	rr := serve(t, h, "/api/reviews?thing=t1&team=tm1&limit=2&offsetDate=2024-03-02T00:00:00Z&offsetID=rev-4")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "t1", got.ThingID)
	assert.Equal(t, "tm1", got.TeamID)
	assert.Equal(t, 2, got.Limit)
	require.NotNil(t, got.OffsetDate)
	assert.True(t, got.OffsetDate.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "rev-4", got.OffsetID)

	body := decode(t, rr)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, "2024-03-01T12:00:00Z", body["offsetDate"])
	assert.Equal(t, "rev-9", body["offsetID"])

	serve(t, h, "/api/reviews?offsetID=rev-4")
	assert.Empty(t, got.OffsetID, "an id without a date is ignored")

	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/reviews?limit=zero").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/reviews?offsetDate=yesterday").Code)
}

func TestFeedRouteMapsErrors(t *testing.T) {
	api := &fakeAPI{
		feedFn: func(context.Context, FeedQuery) (revision.FeedPage[*model.Review], error) {
			return revision.FeedPage[*model.Review]{}, &domain.PersistenceError{Op: "feed", Err: context.DeadlineExceeded}
		},
	}
	rr := serve(t, newTestServer(api).Handler(), "/api/reviews")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "SERVER_ERROR", decode(t, rr)["code"])
}

func TestSearchRoute(t *testing.T) {
	var got search.Query
	api := &fakeAPI{
		searchFn: func(q search.Query) search.Response {
			got = q
			return search.Response{Results: []search.Result{{Type: search.ResultThing, ID: "t1", Title: "Dune"}}, Total: 1, Query: q.Text}
		},
	}
	h := newTestServer(api).Handler()

	rr := serve(t, h, "/api/search?q=dune&type=thing&limit=500")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "dune", got.Text)
	assert.Equal(t, search.ResultThing, got.FilterType)
	assert.Equal(t, 100, got.Limit)
	assert.EqualValues(t, 1, decode(t, rr)["total"])

	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/search?q=+").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RevisionConflict("reviews")

	h := NewHTTPServer(&fakeAPI{}, "*", reg, zerolog.Nop()).Handler()
	rr := serve(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "reviewcore_revision_conflicts_total")
}
