package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPCatalog reads prices from the catalog service's REST API:
//
//	GET {base}/showtimes/{id}                -> {"id", "cinemaId", "price"}
//	GET {base}/showtimes/{id}/seats/{seatId} -> {"id", "extraPrice"}
//	GET {base}/food-items/{id}               -> {"id", "price"}
//
// Callers bound each lookup with their own context deadline.
type HTTPCatalog struct {
	base   string
	client *http.Client
}

// NewHTTPCatalog returns a catalog client for baseURL.  A nil client gets a
// default one with a 10s ceiling.
func NewHTTPCatalog(baseURL string, client *http.Client) *HTTPCatalog {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCatalog{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *HTTPCatalog) Showtime(ctx context.Context, id uint64) (Showtime, error) {
	var st Showtime
	if err := c.get(ctx, fmt.Sprintf("%s/showtimes/%d", c.base, id), &st); err != nil {
		return Showtime{}, err
	}
	if st.ID == 0 {
		st.ID = id
	}
	return st, nil
}

func (c *HTTPCatalog) SeatExtraPrice(ctx context.Context, showtimeID, seatID uint64) (int64, error) {
	var seat struct {
		ExtraPrice int64 `json:"extraPrice"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/showtimes/%d/seats/%d", c.base, showtimeID, seatID), &seat); err != nil {
		return 0, err
	}
	return seat.ExtraPrice, nil
}

func (c *HTTPCatalog) ItemPrice(ctx context.Context, itemID uint64) (int64, error) {
	var item struct {
		Price int64 `json:"price"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/food-items/%d", c.base, itemID), &item); err != nil {
		return 0, err
	}
	return item.Price, nil
}

func (c *HTTPCatalog) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", url, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("catalog request %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog decode %s: %w", url, err)
	}
	return nil
}
