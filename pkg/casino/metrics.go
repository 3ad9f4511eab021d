package casino

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dicebot"

var (
	betsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "bets_total",
		Help:      "Settled bets by game and result.",
	}, []string{"game", "result"})

	rerollAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "reroll_attempts",
		Help:      "Outcome draws needed per bet while the profit guard is steering.",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 40},
	}, []string{"game"})

	rerollExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "reroll_exhausted_total",
		Help:      "Bets where the reroll budget ran out and the last draw was kept.",
	}, []string{"game"})

	minesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "mines_sessions_active",
		Help:      "Mines sessions currently in play.",
	})

	houseProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "house_profit",
		Help:      "Sum of stakes minus payouts over all settled bets.",
	})

	settlementErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "settlement_errors_total",
		Help:      "Failed settlement attempts.",
	})
)

// RegisterMetrics registers engine collectors.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(betsTotal, rerollAttempts, rerollExhausted, minesActive, houseProfit, settlementErrors)
}
