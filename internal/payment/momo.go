package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// MoMo creates MoMo payments, verifies their IPN callbacks and queries MoMo
// for transaction status.  The booking id is used as both orderId and
// requestId, so it can be read back from either.
type MoMo struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	Client      *http.Client
}

const momoRequestType = "payWithMethod"

type momoIPN struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

func (m *MoMo) Provider() string { return ProviderMoMo }

func (m *MoMo) Verify(_ context.Context, p Payload) (Verification, error) {
	var ipn momoIPN
	if err := json.Unmarshal(p.Body, &ipn); err != nil || ipn.OrderID == "" {
		return Verification{}, fmt.Errorf("%w: momo ipn", ErrMalformedPayload)
	}
	raw := "accessKey=" + m.AccessKey +
		"&amount=" + ipn.Amount.String() +
		"&extraData=" + ipn.ExtraData +
		"&message=" + ipn.Message +
		"&orderId=" + ipn.OrderID +
		"&orderInfo=" + ipn.OrderInfo +
		"&orderType=" + ipn.OrderType +
		"&partnerCode=" + ipn.PartnerCode +
		"&payType=" + ipn.PayType +
		"&requestId=" + ipn.RequestID +
		"&responseTime=" + ipn.ResponseTime.String() +
		"&resultCode=" + ipn.ResultCode.String() +
		"&transId=" + ipn.TransID.String()
	code, err := strconv.Atoi(ipn.ResultCode.String())
	if err != nil {
		return Verification{}, fmt.Errorf("%w: momo resultCode %q", ErrMalformedPayload, ipn.ResultCode)
	}
	return Verification{
		BookingID: ipn.OrderID,
		Outcome:   momoOutcome(code),
		Authentic: equalHex(hmacSHA256(m.SecretKey, raw), ipn.Signature),
		Reference: ipn.TransID.String(),
	}, nil
}

// Checkout calls MoMo's create API and returns the hosted payment page.
func (m *MoMo) Checkout(ctx context.Context, o Order) (Checkout, error) {
	const orderInfo = "Cinema booking"
	amount := strconv.FormatInt(o.Amount, 10)
	raw := "accessKey=" + m.AccessKey +
		"&amount=" + amount +
		"&extraData=" +
		"&ipnUrl=" + m.IPNURL +
		"&orderId=" + o.BookingID +
		"&orderInfo=" + orderInfo +
		"&partnerCode=" + m.PartnerCode +
		"&redirectUrl=" + m.RedirectURL +
		"&requestId=" + o.BookingID +
		"&requestType=" + momoRequestType
	body, _ := json.Marshal(map[string]interface{}{
		"partnerCode": m.PartnerCode,
		"requestId":   o.BookingID,
		"amount":      o.Amount,
		"orderId":     o.BookingID,
		"orderInfo":   orderInfo,
		"redirectUrl": m.RedirectURL,
		"ipnUrl":      m.IPNURL,
		"lang":        "vi",
		"requestType": momoRequestType,
		"autoCapture": true,
		"extraData":   "",
		"signature":   hmacSHA256(m.SecretKey, raw),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint+"/create", bytes.NewReader(body))
	if err != nil {
		return Checkout{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
		PayURL     string `json:"payUrl"`
	}
	if err := doJSON(m.Client, req, &out); err != nil {
		return Checkout{}, err
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return Checkout{}, fmt.Errorf("%w: momo result %d: %s", ErrCheckoutRejected, out.ResultCode, out.Message)
	}
	return Checkout{Provider: ProviderMoMo, BookingID: o.BookingID, PayURL: out.PayURL, Reference: o.BookingID}, nil
}

// CheckStatus calls MoMo's transaction query API.
func (m *MoMo) CheckStatus(ctx context.Context, bookingID string) (Outcome, error) {
	raw := "accessKey=" + m.AccessKey + "&orderId=" + bookingID + "&partnerCode=" + m.PartnerCode + "&requestId=" + bookingID
	body, _ := json.Marshal(map[string]string{
		"partnerCode": m.PartnerCode,
		"requestId":   bookingID,
		"orderId":     bookingID,
		"lang":        "en",
		"signature":   hmacSHA256(m.SecretKey, raw),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint+"/query", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		ResultCode int `json:"resultCode"`
	}
	if err := doJSON(m.Client, req, &out); err != nil {
		return "", err
	}
	return momoOutcome(out.ResultCode), nil
}

// momoOutcome maps MoMo result codes: 0 is paid, 1000 and 7000/7002 mean
// the user has not finished yet, anything else is a failure.
func momoOutcome(code int) Outcome {
	switch code {
	case 0:
		return OutcomeSuccess
	case 1000, 7000, 7002:
		return OutcomePending
	}
	return OutcomeFailure
}

func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}
	return nil
}
