package enums

import "testing"

func TestPayoutStatusBucket(t *testing.T) {
	cases := map[PayoutStatus]PayoutStatus{
		PayoutStatusPaid:       PayoutStatusPaid,
		PayoutStatusFailed:     PayoutStatusFailed,
		PayoutStatusPending:    PayoutStatusPending,
		PayoutStatusInTransit:  PayoutStatusPending,
		PayoutStatusCanceled:   PayoutStatusPending,
		PayoutStatus("future"): PayoutStatusPending,
	}
	for in, want := range cases {
		if got := in.Bucket(); got != want {
			t.Fatalf("%q: expected bucket %q got %q", in, want, got)
		}
	}
}

func TestPayoutStatusForwardOnly(t *testing.T) {
	tests := []struct {
		from, to PayoutStatus
		want     bool
	}{
		{"", PayoutStatusPending, true},
		{PayoutStatusPending, PayoutStatusPaid, true},
		{PayoutStatusPending, PayoutStatusFailed, true},
		{PayoutStatusPending, PayoutStatusInTransit, true},
		{PayoutStatusInTransit, PayoutStatusPaid, true},
		{PayoutStatusInTransit, PayoutStatusPending, false},
		{PayoutStatusPaid, PayoutStatusFailed, false},
		{PayoutStatusPaid, PayoutStatusPending, false},
		{PayoutStatusFailed, PayoutStatusPaid, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Fatalf("%q -> %q: expected %v got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestParseVendorAccountStatus(t *testing.T) {
	status, err := ParseVendorAccountStatus("active")
	if err != nil || status != VendorAccountActive {
		t.Fatalf("unexpected parse result %q %v", status, err)
	}
	if _, err := ParseVendorAccountStatus("gone"); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if !VendorAccountDeleted.IsTerminal() || VendorAccountActive.IsTerminal() {
		t.Fatalf("unexpected terminal flags")
	}
}

func TestRetryOperationKind(t *testing.T) {
	if _, err := ParseRetryOperationKind("payout"); err != nil {
		t.Fatalf("expected payout kind to parse: %v", err)
	}
	if k, err := ParseRetryOperationKind("webhook_event"); err != nil || k != RetryKindWebhookEvent {
		t.Fatalf("expected webhook_event kind, got %q err=%v", k, err)
	}
	if RetryOperationKind("refund").IsValid() {
		t.Fatalf("refund is not a built-in kind")
	}
}

func TestOrderStatusIsPaid(t *testing.T) {
	if OrderStatusPending.IsPaid() || !OrderStatusPlaced.IsPaid() || !OrderStatusCompleted.IsPaid() {
		t.Fatalf("unexpected IsPaid results")
	}
}

func TestParseActorRole(t *testing.T) {
	role, err := ParseActorRole(" Admin ")
	if err != nil || role != ActorRoleAdmin {
		t.Fatalf("expected admin, got %q err=%v", role, err)
	}
	if _, err := ParseActorRole("agent"); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
}
