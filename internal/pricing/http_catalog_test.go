package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/showtimes/3":
			_, _ = w.Write([]byte(`{"id":3,"cinemaId":1,"price":9000}`))
		case "/showtimes/3/seats/10":
			_, _ = w.Write([]byte(`{"id":10,"extraPrice":3000}`))
		case "/food-items/20":
			_, _ = w.Write([]byte(`{"id":20,"price":4000}`))
		case "/food-items/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cat := NewHTTPCatalog(srv.URL+"/", nil)
	ctx := context.Background()

	st, err := cat.Showtime(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Showtime{ID: 3, CinemaID: 1, Price: 9000}, st)

	extra, err := cat.SeatExtraPrice(ctx, 3, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, extra)

	_, err = cat.SeatExtraPrice(ctx, 3, 11)
	assert.ErrorIs(t, err, ErrNotFound)

	price, err := cat.ItemPrice(ctx, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 4000, price)

	_, err = cat.Showtime(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cat.ItemPrice(ctx, 500)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
