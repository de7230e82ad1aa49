package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentbridge.com/app/internal/modules/payments"
	"rentbridge.com/app/internal/modules/payments/providers"
)

// Sends a signed event to a server running with PAYMENT_PROVIDER=mock.

type sessionObject struct {
	ID            string            `json:"id"`
	Status        string            `json:"status,omitempty"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	AmountTotal   int64             `json:"amount_total,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	PaymentIntent string            `json:"payment_intent,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object sessionObject `json:"object"`
	} `json:"data"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/webhooks/payment-provider", "Webhook URL")
	secret := flag.String("secret", os.Getenv("MOCK_WEBHOOK_SECRET"), "Webhook secret")
	eventID := flag.String("event-id", "evt_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:16], "Event ID (reuse to test redelivery)")
	eventType := flag.String("type", payments.EventCheckoutCompleted,
		"Event type ("+payments.EventCheckoutCompleted+", "+payments.EventCheckoutExpired+", "+payments.EventPaymentFailed+")")
	paymentID := flag.String("payment-id", "", "Payment id put in metadata.paymentId")
	sessionID := flag.String("session-id", "", "Checkout session id (defaults to a fresh cs_mock id)")
	amount := flag.Int64("amount", 0, "Amount total in minor units (cents)")
	currency := flag.String("currency", "usd", "Currency")
	unpaid := flag.Bool("unpaid", false, "Send payment_status=unpaid on a completed session")
	dryRun := flag.Bool("dry-run", false, "Only print signature header, don't send")

	flag.Parse()

	if *secret == "" {
		fmt.Fprintf(os.Stderr, "Error: secret not provided and MOCK_WEBHOOK_SECRET not set\n")
		os.Exit(1)
	}
	if *paymentID == "" {
		fmt.Fprintf(os.Stderr, "Error: -payment-id is required\n")
		os.Exit(1)
	}
	if *sessionID == "" {
		*sessionID = "cs_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}

	ev := envelope{ID: *eventID, Type: *eventType}
	obj := sessionObject{
		ID:       *sessionID,
		Metadata: map[string]string{"paymentId": *paymentID},
	}
	switch *eventType {
	case payments.EventCheckoutCompleted:
		obj.Status = "complete"
		obj.PaymentStatus = "paid"
		if *unpaid {
			obj.PaymentStatus = "unpaid"
		}
		obj.AmountTotal = *amount
		obj.Currency = *currency
		obj.PaymentIntent = "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	case payments.EventCheckoutExpired:
		obj.Status = "expired"
		obj.PaymentStatus = "unpaid"
	case payments.EventPaymentFailed:
		obj.ID = "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	default:
		fmt.Fprintf(os.Stderr, "Warning: unknown event type %q, the server will ignore it\n", *eventType)
	}
	ev.Data.Object = obj

	body, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
		os.Exit(1)
	}

	sigHeader := providers.Sign(*secret, time.Now(), body)

	fmt.Printf("%s: %s\n", providers.MockSignatureHeader, sigHeader)
	fmt.Printf("Body: %s\n", string(body))

	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	fmt.Printf("\nSending to %s...\n", *url)
	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(providers.MockSignatureHeader, sigHeader)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", string(respBody))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
