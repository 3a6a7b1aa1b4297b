package payment

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VnPay builds signed VNPAY payment URLs and verifies VNPAY return/IPN
// requests.  The signature is an HMAC-SHA512 over the query parameters
// sorted by name, excluding the hash fields themselves.
type VnPay struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

func (v *VnPay) Provider() string { return ProviderVnPay }

func (v *VnPay) Verify(_ context.Context, p Payload) (Verification, error) {
	ref := p.Query.Get("vnp_TxnRef")
	if ref == "" {
		return Verification{}, fmt.Errorf("%w: vnpay missing vnp_TxnRef", ErrMalformedPayload)
	}
	got := p.Query.Get("vnp_SecureHash")
	outcome := OutcomeFailure
	if p.Query.Get("vnp_ResponseCode") == "00" && p.Query.Get("vnp_TransactionStatus") == "00" {
		outcome = OutcomeSuccess
	}
	return Verification{
		BookingID: ref,
		Outcome:   outcome,
		Authentic: got != "" && equalHex(hmacSHA512(v.HashSecret, VnPaySignData(p.Query)), got),
		Reference: p.Query.Get("vnp_TransactionNo"),
	}, nil
}

// Checkout signs a payment URL for the booking.  VNPAY takes the amount in
// hundredths of a dong and the booking id as vnp_TxnRef; no API call is made.
func (v *VnPay) Checkout(_ context.Context, o Order) (Checkout, error) {
	if o.Amount <= 0 || o.Amount > math.MaxInt64/100 {
		return Checkout{}, fmt.Errorf("%w: vnpay amount %d", ErrCheckoutRejected, o.Amount)
	}
	ip := o.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	q := url.Values{
		"vnp_Version":    {"2.1.0"},
		"vnp_Command":    {"pay"},
		"vnp_TmnCode":    {v.TmnCode},
		"vnp_Amount":     {strconv.FormatInt(o.Amount*100, 10)},
		"vnp_CurrCode":   {"VND"},
		"vnp_Locale":     {"vn"},
		"vnp_CreateDate": {time.Now().In(vietnam).Format("20060102150405")},
		"vnp_OrderInfo":  {"Cinema booking " + o.BookingID},
		"vnp_OrderType":  {"other"},
		"vnp_ReturnUrl":  {v.ReturnURL},
		"vnp_IpAddr":     {ip},
		"vnp_TxnRef":     {o.BookingID},
	}
	data := VnPaySignData(q)
	return Checkout{
		Provider:  ProviderVnPay,
		BookingID: o.BookingID,
		PayURL:    v.PayURL + "?" + data + "&vnp_SecureHash=" + hmacSHA512(v.HashSecret, data),
		Reference: o.BookingID,
	}, nil
}

// VnPaySignData builds the string VNPAY signs: key=value pairs sorted by
// key, values query-escaped, joined by "&".
func VnPaySignData(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" || q.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(q.Get(k)))
	}
	return strings.Join(parts, "&")
}
