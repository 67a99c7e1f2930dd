package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const ProviderLocal = "local"

// Local is a gateway that issues signed checkout URLs against a configurable
// base URL and accepts signed form-encoded callbacks. It stands in for a
// hosted gateway in development and integration environments.
type Local struct {
	baseURL string
	secret  []byte
}

func NewLocal(baseURL, secret string) *Local {
	return &Local{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "?"), secret: []byte(strings.TrimSpace(secret))}
}

func (l *Local) Name() string { return ProviderLocal }

func (l *Local) GeneratePaymentLink(ctx context.Context, req LinkRequest) (Link, error) {
	if l.baseURL == "" || len(l.secret) == 0 {
		return Link{}, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	orderID := "ord_" + uuid.NewString()
	params := url.Values{}
	for k, v := range passThrough(req) {
		params.Set(k, v)
	}
	params.Set(ParamOrderID, orderID)
	params.Set(ParamAmount, req.Payment.FinalAmount().String())
	params.Set(ParamSignature, Sign(l.secret, params))
	return Link{URL: l.baseURL + "?" + params.Encode(), OrderID: orderID}, nil
}

// VerifyWebhook checks the signature over every other parameter and
// extracts the notification fields.
func (l *Local) VerifyWebhook(params url.Values) (Notification, error) {
	if len(l.secret) == 0 {
		return Notification{}, ErrNotConfigured
	}
	got, err := hex.DecodeString(params.Get(ParamSignature))
	if err != nil || len(got) == 0 {
		return Notification{}, ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(l.secret, params))
	if !hmac.Equal(got, want) {
		return Notification{}, ErrInvalidSignature
	}
	trim := func(key string) string { return strings.TrimSpace(params.Get(key)) }
	return Notification{
		Provider:      ProviderLocal,
		EventID:       trim(ParamEventID),
		EventType:     "payment." + trim(ParamStatus),
		PaymentID:     trim(ParamPaymentID),
		AppointmentID: trim(ParamAppointmentID),
		ClientID:      trim(ParamClientID),
		ServiceID:     trim(ParamServiceID),
		OrderID:       trim(ParamOrderID),
		Status:        trim(ParamStatus),
		Raw:           []byte(params.Encode()),
	}, nil
}

// Sign returns the hex HMAC-SHA256 of the parameters other than the
// signature, as sorted key=value pairs joined by '&'. Only the first value
// of each key is signed.
func Sign(secret []byte, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != ParamSignature {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
