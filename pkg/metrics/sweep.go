package metrics

import "github.com/prometheus/client_golang/prometheus"

// SweepMetrics accumulates vendor reconciliation sweep statistics.
type SweepMetrics struct {
	accounts *prometheus.CounterVec
}

func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	accounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vendor_sweep_accounts_total",
		Help:      "Vendor accounts seen by the reconciliation sweep, by result.",
	}, []string{"result"})
	reg.MustRegister(accounts)
	return &SweepMetrics{accounts: accounts}
}

func (s *SweepMetrics) Add(checked, updated, deleted, errors int) {
	if s == nil || s.accounts == nil {
		return
	}
	s.accounts.WithLabelValues("checked").Add(float64(checked))
	s.accounts.WithLabelValues("updated").Add(float64(updated))
	s.accounts.WithLabelValues("deleted").Add(float64(deleted))
	s.accounts.WithLabelValues("error").Add(float64(errors))
}
