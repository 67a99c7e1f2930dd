// Command webhook-sim signs a payment notification and posts it to the
// booking service, as Stripe or as the local gateway would.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/config"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/gateway"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL       = flag.String("base-url", config.String("BASE_URL", "http://localhost:8085"), "booking service base url")
		provider      = flag.String("provider", config.String("PROVIDER", "local"), "local or stripe")
		status        = flag.String("status", config.String("STATUS", "paid"), "local: gateway status string; stripe: paid | failed | expired")
		paymentID     = flag.String("payment-id", config.String("PAYMENT_ID", ""), "payment id pass-through parameter")
		appointmentID = flag.String("appointment-id", config.String("APPOINTMENT_ID", ""), "appointment id pass-through parameter")
		eventID       = flag.String("event-id", config.String("EVENT_ID", ""), "provider event id; generated when empty")
		secret        = flag.String("secret", "", "signing secret; defaults to LOCAL_GATEWAY_SECRET or STRIPE_WEBHOOK_SECRET")
	)
	flag.Parse()

	if strings.TrimSpace(*paymentID) == "" && strings.TrimSpace(*appointmentID) == "" {
		fatal("PAYMENT_ID or APPOINTMENT_ID is required")
	}
	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_sim_%d", now.UnixNano())
	}

	var req *http.Request
	var err error
	switch *provider {
	case gateway.ProviderLocal:
		req, err = localRequest(*baseURL, secretOr(*secret, "LOCAL_GATEWAY_SECRET"), *eventID, *status, *paymentID, *appointmentID)
	case gateway.ProviderStripe:
		req, err = stripeRequest(*baseURL, secretOr(*secret, "STRIPE_WEBHOOK_SECRET"), *eventID, *status, *paymentID, *appointmentID, now)
	default:
		err = fmt.Errorf("unsupported provider: %s", *provider)
	}
	if err != nil {
		fatal(err.Error())
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func localRequest(baseURL, secret, eventID, status, paymentID, appointmentID string) (*http.Request, error) {
	params := url.Values{}
	params.Set(gateway.ParamEventID, eventID)
	params.Set(gateway.ParamStatus, status)
	if paymentID != "" {
		params.Set(gateway.ParamPaymentID, paymentID)
	}
	if appointmentID != "" {
		params.Set(gateway.ParamAppointmentID, appointmentID)
	}
	params.Set(gateway.ParamSignature, gateway.Sign([]byte(secret), params))

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/payments/webhooks/local", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func stripeRequest(baseURL, secret, eventID, status, paymentID, appointmentID string, t time.Time) (*http.Request, error) {
	payload, err := buildStripeEvent(eventID, status, t, paymentID, appointmentID)
	if err != nil {
		return nil, err
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: t,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/payments/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req, nil
}

func buildStripeEvent(eventID, status string, t time.Time, paymentID, appointmentID string) ([]byte, error) {
	session := map[string]any{
		"id":     "cs_sim_" + eventID,
		"object": "checkout.session",
		"metadata": map[string]any{
			gateway.ParamPaymentID:     paymentID,
			gateway.ParamAppointmentID: appointmentID,
		},
	}
	var eventType string
	switch status {
	case "paid":
		eventType = "checkout.session.completed"
		session["payment_status"] = "paid"
	case "failed":
		eventType = "checkout.session.async_payment_failed"
	case "expired":
		eventType = "checkout.session.expired"
	default:
		return nil, fmt.Errorf("unsupported stripe status: %s", status)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
}

func secretOr(flagValue, envKey string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	v := os.Getenv(envKey)
	if strings.TrimSpace(v) == "" {
		fatal(envKey + " is required")
	}
	return v
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
