package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ZaloPay creates ZaloPay orders, verifies their callbacks
// (mac = HMAC-SHA256(key2, data)) and queries order status
// (mac = HMAC-SHA256(key1, app_id|app_trans_id|key1)).
type ZaloPay struct {
	AppID       int
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
	RedirectURL string
	Client      *http.Client
	now         func() time.Time
}

const zaloPayAppUser = "seat-reservation"

func (z *ZaloPay) clock() time.Time {
	if z.now != nil {
		return z.now()
	}
	return time.Now()
}

// AppTransID derives the ZaloPay transaction id of a booking:
// yymmdd_<booking uuid without dashes>.
func AppTransID(bookingID string, at time.Time) string {
	return at.Format("060102") + "_" + strings.ReplaceAll(bookingID, "-", "")
}

// BookingIDFromAppTransID reverses AppTransID.
func BookingIDFromAppTransID(appTransID string) (string, error) {
	_, compact, ok := strings.Cut(appTransID, "_")
	if !ok {
		return "", fmt.Errorf("%w: app_trans_id %q", ErrMalformedPayload, appTransID)
	}
	id, err := uuid.Parse(compact)
	if err != nil {
		return "", fmt.Errorf("%w: app_trans_id %q", ErrMalformedPayload, appTransID)
	}
	return id.String(), nil
}

func (z *ZaloPay) Provider() string { return ProviderZaloPay }

func (z *ZaloPay) Verify(_ context.Context, p Payload) (Verification, error) {
	var cb struct {
		Data string `json:"data"`
		Mac  string `json:"mac"`
		Type int    `json:"type"`
	}
	if err := json.Unmarshal(p.Body, &cb); err != nil || cb.Data == "" {
		return Verification{}, fmt.Errorf("%w: zalopay callback", ErrMalformedPayload)
	}
	var data struct {
		AppTransID string `json:"app_trans_id"`
		ZpTransID  int64  `json:"zp_trans_id"`
	}
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return Verification{}, fmt.Errorf("%w: zalopay data", ErrMalformedPayload)
	}
	bookingID, err := BookingIDFromAppTransID(data.AppTransID)
	if err != nil {
		return Verification{}, err
	}
	// ZaloPay only calls back for completed payments.
	return Verification{
		BookingID: bookingID,
		Outcome:   OutcomeSuccess,
		Authentic: equalHex(hmacSHA256(z.Key2, cb.Data), cb.Mac),
		Reference: strconv.FormatInt(data.ZpTransID, 10),
	}, nil
}

// Checkout creates a ZaloPay order whose app_trans_id carries the booking
// id and returns its order_url.
func (z *ZaloPay) Checkout(ctx context.Context, o Order) (Checkout, error) {
	now := z.clock()
	appID := strconv.Itoa(z.AppID)
	appTransID := AppTransID(o.BookingID, now.In(vietnam))
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(o.Amount, 10)
	embed, _ := json.Marshal(map[string]string{"redirecturl": z.RedirectURL})
	item, _ := json.Marshal([]map[string]interface{}{{"name": "booking " + o.BookingID, "quantity": 1, "price": o.Amount}})
	form := url.Values{
		"app_id":       {appID},
		"app_trans_id": {appTransID},
		"app_user":     {zaloPayAppUser},
		"app_time":     {appTime},
		"amount":       {amount},
		"embed_data":   {string(embed)},
		"item":         {string(item)},
		"callback_url": {z.CallbackURL},
		"description":  {"Cinema booking " + o.BookingID},
		"bank_code":    {""},
		"mac": {hmacSHA256(z.Key1, strings.Join([]string{
			appID, appTransID, zaloPayAppUser, amount, appTime, string(embed), string(item),
		}, "|"))},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.Endpoint+"/create", strings.NewReader(form.Encode()))
	if err != nil {
		return Checkout{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out struct {
		ReturnCode    int    `json:"return_code"`
		ReturnMessage string `json:"return_message"`
		OrderURL      string `json:"order_url"`
	}
	if err := doJSON(z.Client, req, &out); err != nil {
		return Checkout{}, err
	}
	if out.ReturnCode != 1 {
		return Checkout{}, fmt.Errorf("%w: zalopay return %d: %s", ErrCheckoutRejected, out.ReturnCode, out.ReturnMessage)
	}
	return Checkout{Provider: ProviderZaloPay, BookingID: o.BookingID, PayURL: out.OrderURL, Reference: appTransID}, nil
}

// CheckStatus queries the order created for bookingID.  ZaloPay needs the
// app_trans_id, whose date prefix is the creation day; today's and
// yesterday's prefixes are tried.
func (z *ZaloPay) CheckStatus(ctx context.Context, bookingID string) (Outcome, error) {
	now := z.clock().In(vietnam)
	var last Outcome
	for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
		out, err := z.query(ctx, AppTransID(bookingID, day))
		if err != nil {
			return "", err
		}
		if out != OutcomeFailure {
			return out, nil
		}
		last = out
	}
	return last, nil
}

func (z *ZaloPay) query(ctx context.Context, appTransID string) (Outcome, error) {
	appID := strconv.Itoa(z.AppID)
	form := url.Values{
		"app_id":       {appID},
		"app_trans_id": {appTransID},
		"mac":          {hmacSHA256(z.Key1, appID+"|"+appTransID+"|"+z.Key1)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.Endpoint+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out struct {
		ReturnCode int `json:"return_code"`
	}
	if err := doJSON(z.Client, req, &out); err != nil {
		return "", err
	}
	switch out.ReturnCode {
	case 1:
		return OutcomeSuccess, nil
	case 3:
		return OutcomePending, nil
	}
	return OutcomeFailure, nil
}

var vietnam = time.FixedZone("ICT", 7*60*60)
