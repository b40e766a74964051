package payouts

import (
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/shopspring/decimal"
)

// CurrencyTotals is the per-currency slice of a Summary.
type CurrencyTotals struct {
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`
	Failed  decimal.Decimal `json:"failed"`
	Count   int             `json:"count"`
}

// Summary aggregates tracked payouts. Statuses other than paid and failed
// count as pending.
type Summary struct {
	TotalPaid    decimal.Decimal           `json:"total_paid"`
	TotalPending decimal.Decimal           `json:"total_pending"`
	TotalFailed  decimal.Decimal           `json:"total_failed"`
	Count        int                       `json:"count"`
	PerCurrency  map[string]CurrencyTotals `json:"per_currency"`
	StatusCounts map[string]int            `json:"status_counts"`
}

func Summarize(records []models.Payout) Summary {
	s := Summary{
		TotalPaid:    decimal.Zero,
		TotalPending: decimal.Zero,
		TotalFailed:  decimal.Zero,
		PerCurrency:  map[string]CurrencyTotals{},
		StatusCounts: map[string]int{},
	}
	for _, rec := range records {
		s.Count++
		s.StatusCounts[string(rec.Status)]++

		ct, ok := s.PerCurrency[rec.Currency]
		if !ok {
			ct = CurrencyTotals{Paid: decimal.Zero, Pending: decimal.Zero, Failed: decimal.Zero}
		}
		ct.Count++

		switch rec.Status.Bucket() {
		case enums.PayoutStatusPaid:
			s.TotalPaid = s.TotalPaid.Add(rec.Amount)
			ct.Paid = ct.Paid.Add(rec.Amount)
		case enums.PayoutStatusFailed:
			s.TotalFailed = s.TotalFailed.Add(rec.Amount)
			ct.Failed = ct.Failed.Add(rec.Amount)
		default:
			s.TotalPending = s.TotalPending.Add(rec.Amount)
			ct.Pending = ct.Pending.Add(rec.Amount)
		}
		s.PerCurrency[rec.Currency] = ct
	}
	return s
}
