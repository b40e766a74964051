package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/enums"
)

const (
	keySweepCursor     = "vendor_sweep_cursor"
	keyAPIKeyStatus    = "api_key_status"
	keyDeletedAccounts = "deleted_accounts"
)

// APIKeyStatus is the last verification outcome of the provider API key.
type APIKeyStatus struct {
	Status      enums.APIKeyState `json:"status"`
	Failures    int               `json:"failures"`
	LastChecked *time.Time        `json:"last_checked,omitempty"`
	LastSuccess *time.Time        `json:"last_success,omitempty"`
	LastFailure *time.Time        `json:"last_failure,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// DeletedAccount is one entry of the deleted-accounts index.
type DeletedAccount struct {
	AccountID  string    `json:"account_id"`
	VendorID   int64     `json:"vendor_id"`
	DetectedAt time.Time `json:"detected_at"`
}

// Store exposes typed accessors over a KV.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// SweepCursor returns the last vendor id processed by the sweep, 0 if unset.
func (s *Store) SweepCursor(ctx context.Context) (int64, error) {
	raw, ok, err := s.kv.Get(ctx, keySweepCursor)
	if err != nil || !ok {
		return 0, err
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing sweep cursor %q: %w", raw, err)
	}
	return cursor, nil
}

func (s *Store) SetSweepCursor(ctx context.Context, vendorID int64) error {
	return s.kv.Set(ctx, keySweepCursor, strconv.FormatInt(vendorID, 10))
}

// APIKeyStatus returns the stored status, or an "unknown" zero status.
func (s *Store) APIKeyStatus(ctx context.Context) (APIKeyStatus, error) {
	raw, ok, err := s.kv.Get(ctx, keyAPIKeyStatus)
	if err != nil {
		return APIKeyStatus{}, err
	}
	if !ok || raw == "" {
		return APIKeyStatus{Status: enums.APIKeyUnknown}, nil
	}
	var status APIKeyStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return APIKeyStatus{}, fmt.Errorf("decoding api key status: %w", err)
	}
	return status, nil
}

func (s *Store) SaveAPIKeyStatus(ctx context.Context, status APIKeyStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyAPIKeyStatus, string(raw))
}

// RecordDeletedAccount adds or refreshes accountID in the deleted-accounts index.
func (s *Store) RecordDeletedAccount(ctx context.Context, entry DeletedAccount) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.kv.HSet(ctx, keyDeletedAccounts, entry.AccountID, string(raw))
}

// DeletedAccounts lists the index, most recently detected first.
func (s *Store) DeletedAccounts(ctx context.Context) ([]DeletedAccount, error) {
	all, err := s.kv.HGetAll(ctx, keyDeletedAccounts)
	if err != nil {
		return nil, err
	}
	out := make([]DeletedAccount, 0, len(all))
	for accountID, raw := range all {
		var entry DeletedAccount
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decoding deleted account %s: %w", accountID, err)
		}
		entry.AccountID = accountID
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out, nil
}
