package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return r.id, r.err }

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakeResult{id: "m-1", err: p.err}
}

type recordingNotifier struct {
	got []Message
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func TestPubSubNotifierPublishesJSONWithAttributes(t *testing.T) {
	pub := &fakePublisher{}
	n := newPubSubNotifierWith(pub)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	msg := PayoutDeposited(42, "po_1", decimal.NewFromInt(600), "usd", now)
	require.NoError(t, n.Notify(context.Background(), msg))
	require.Len(t, pub.messages, 1)

	sent := pub.messages[0]
	assert.Equal(t, "payout_deposited", sent.Attributes["type"])
	assert.Equal(t, "vendor", sent.Attributes["audience"])
	assert.Equal(t, "42", sent.Attributes["vendor_id"])

	var decoded Message
	require.NoError(t, json.Unmarshal(sent.Data, &decoded))
	assert.Equal(t, msg.Subject, decoded.Subject)
	assert.Equal(t, "po_1", decoded.Data["payout_id"])
}

func TestPubSubNotifierSurfacesPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("unavailable")}
	n := newPubSubNotifierWith(pub)

	err := n.Notify(context.Background(), APIKeyFailure(1, "bad key", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key_failure")
}

func TestLogNotifierWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})
	n := NewLogNotifier(logg)

	require.NoError(t, n.Notify(context.Background(), AccountDeleted(7, "acct_1", time.Now())))
	out := buf.String()
	assert.Contains(t, out, `"notification_type":"account_deleted"`)
	assert.Contains(t, out, `"audience":"operator"`)
	assert.Contains(t, out, "acct_1")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	err := Multi{ok, nil, bad}.Notify(context.Background(), Message{Type: TypePayoutFailed})
	require.Error(t, err)
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)
}

func TestBuilders(t *testing.T) {
	now := time.Now()
	arrival := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	inTransit := PayoutInTransit(1, "po_1", decimal.RequireFromString("12.5"), "usd", &arrival, now)
	assert.Contains(t, inTransit.Body, "12.50 usd")
	assert.Contains(t, inTransit.Body, "2024-05-02")

	failed := PayoutFailed(1, "po_1", decimal.NewFromInt(5), "eur", "account_closed", now)
	assert.Equal(t, TypePayoutFailed, failed.Type)
	assert.Contains(t, failed.Body, "account_closed")

	alert := APIKeyFailure(10, "invalid", now)
	assert.Equal(t, AudienceOperator, alert.Audience)
	assert.Equal(t, "10", alert.Data["failures"])
}
