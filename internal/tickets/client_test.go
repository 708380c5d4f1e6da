package tickets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketdesk/reportd/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.TicketsConfig{
		BaseURL:   srv.URL + "/",
		APIKey:    "secret-key",
		Timeout:   2 * time.Second,
		PageLimit: 250,
	})
	c.now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestClient_QueryForwardsFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tickets", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "42", q.Get("company_id"))
		assert.Equal(t, "open", q.Get("status"))
		assert.Equal(t, "billing", q.Get("category"))
		assert.Equal(t, "2024-05-03", q.Get("date_start"))
		assert.Equal(t, "250", q.Get("limit"))
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"company_id":42,"ticket_number":"T-1","status":"open","category":"billing","age_seconds":172800}]`))
	})

	got, err := c.Query(context.Background(), 42, Filters{Status: "open", Category: "billing", DateRangeDays: 7})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "T-1", got[0].TicketNumber)
	require.InDelta(t, 2.0, got[0].AgeDays(), 0.0001)
}

func TestClient_QueryOmitsEmptyFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.False(t, q.Has("status"))
		assert.False(t, q.Has("category"))
		assert.False(t, q.Has("date_start"))
		_, _ = w.Write([]byte(`null`))
	})

	got, err := c.Query(context.Background(), 1, Filters{})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestClient_QueryStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"upstream unavailable"}`))
	})

	_, err := c.Query(context.Background(), 1, Filters{})
	require.Error(t, err)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, http.StatusBadGateway, serr.StatusCode)
	require.Equal(t, "upstream unavailable", serr.Detail)
}

func TestClient_QueryHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, 1, Filters{})
	require.Error(t, err)
}

func TestClient_CompanyName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/companies/7" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"name":"Acme Corp","api_key":"hidden"}`))
	})

	name, err := c.CompanyName(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", name)

	_, err = c.CompanyName(context.Background(), 8)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusNotFound, serr.StatusCode)
}
