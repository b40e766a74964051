package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"

	eventrouter "github.com/angelmondragon/connect-reconciler/internal/webhooks"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
)

const testSecret = "whsec_test"

type fakeDispatcher struct {
	events []eventrouter.Event
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, e eventrouter.Event) (eventrouter.Result, error) {
	f.events = append(f.events, e)
	return eventrouter.Result{Handled: e.Kind != eventrouter.KindUnknown}, f.err
}

type memoryGuard struct {
	seen map[string]bool
}

func (m *memoryGuard) Seen(_ context.Context, id string) (bool, error) {
	if m.seen[id] {
		return true, nil
	}
	m.seen[id] = true
	return false, nil
}

func signedRequest(t *testing.T, eventType string) (*http.Request, []byte) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      "evt_" + eventType,
		"object":  "event",
		"type":    eventType,
		"account": "acct_A",
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": map[string]any{"id": "po_1", "object": "payout"}},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req, payload
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) ackResponse {
	t.Helper()
	var ack ackResponse
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestStripeWebhookDispatchesVerifiedEvent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	h := StripeWebhook(StripeWebhookParams{
		Dispatcher:    dispatcher,
		Verifier:      stripeclient.NewSyntheticClient(nil),
		WebhookSecret: testSecret,
	})

	req, _ := signedRequest(t, "payout.paid")
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	ack := decodeAck(t, rec)
	if !ack.Received || !ack.Handled {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if len(dispatcher.events) != 1 || dispatcher.events[0].AccountID != "acct_A" {
		t.Fatalf("expected one dispatched event with account, got %+v", dispatcher.events)
	}
}

func TestStripeWebhookAcknowledgesUnknownAndFailingEvents(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	h := StripeWebhook(StripeWebhookParams{
		Dispatcher:    dispatcher,
		Verifier:      stripeclient.NewSyntheticClient(nil),
		WebhookSecret: testSecret,
	})

	req, _ := signedRequest(t, "customer.created")
	rec := serve(h, req)
	if rec.Code != http.StatusOK || decodeAck(t, rec).Handled {
		t.Fatalf("unknown event should be acknowledged as unhandled, got %d", rec.Code)
	}

	dispatcher.err = errors.New("db down")
	req, _ = signedRequest(t, "payout.failed")
	rec = serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("handler failure should still ack, got %d", rec.Code)
	}
}

func TestStripeWebhookGates(t *testing.T) {
	verifier := stripeclient.NewSyntheticClient(nil)
	dispatcher := &fakeDispatcher{}

	t.Run("missing signature", func(t *testing.T) {
		h := StripeWebhook(StripeWebhookParams{Dispatcher: dispatcher, Verifier: verifier, WebhookSecret: testSecret})
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		h := StripeWebhook(StripeWebhookParams{Dispatcher: dispatcher, Verifier: verifier, WebhookSecret: testSecret})
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("secret not configured", func(t *testing.T) {
		h := StripeWebhook(StripeWebhookParams{Dispatcher: dispatcher, Verifier: verifier})
		req, _ := signedRequest(t, "payout.paid")
		if rec := serve(h, req); rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		h := StripeWebhook(StripeWebhookParams{Dispatcher: dispatcher, Verifier: verifier, WebhookSecret: testSecret})
		req, _ := signedRequest(t, "payout.paid")
		req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		h := StripeWebhook(StripeWebhookParams{Dispatcher: dispatcher, Verifier: verifier, WebhookSecret: testSecret, MaxBodyBytes: 16})
		req, _ := signedRequest(t, "payout.paid")
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	if len(dispatcher.events) != 0 {
		t.Fatalf("rejected requests must not dispatch, got %d", len(dispatcher.events))
	}
}

func TestStripeWebhookDuplicateGuard(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	guard := &memoryGuard{seen: map[string]bool{}}
	h := StripeWebhook(StripeWebhookParams{
		Dispatcher:    dispatcher,
		Verifier:      stripeclient.NewSyntheticClient(nil),
		WebhookSecret: testSecret,
		Guard:         guard,
	})

	for i := 0; i < 2; i++ {
		req, _ := signedRequest(t, "payout.paid")
		if rec := serve(h, req); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("duplicate should be skipped, dispatched %d", len(dispatcher.events))
	}

	dispatcher.err = errors.New("boom")
	for i := 0; i < 2; i++ {
		req, _ := signedRequest(t, "payout.failed")
		if rec := serve(h, req); rec.Code != http.StatusOK {
			t.Fatalf("failed dispatch should still ack, got %d", rec.Code)
		}
	}
	if len(dispatcher.events) != 2 {
		t.Fatalf("redelivered failed event should be skipped, dispatched %d", len(dispatcher.events))
	}
}
