package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	lendingstate "moneymarket/state/lending"
)

// MarketMetrics exposes the latest committed sample of every market.
type MarketMetrics struct {
	cash         *prometheus.GaugeVec
	borrows      *prometheus.GaugeVec
	reserves     *prometheus.GaugeVec
	shares       *prometheus.GaugeVec
	exchangeRate *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	borrowRate   *prometheus.GaugeVec
	supplyRate   *prometheus.GaugeVec
	sampled      prometheus.Counter
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

var mantissaOne = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func marketGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lending",
		Subsystem: "market",
		Name:      name,
		Help:      help,
	}, []string{"market"})
}

func Markets() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			cash:         marketGauge("cash", "Underlying held by the market, in base units."),
			borrows:      marketGauge("total_borrows", "Outstanding borrows including accrued interest, in base units."),
			reserves:     marketGauge("total_reserves", "Reserves owned by the market admin, in base units."),
			shares:       marketGauge("total_shares", "Outstanding market shares."),
			exchangeRate: marketGauge("exchange_rate", "Underlying per share."),
			utilization:  marketGauge("utilization", "Borrows over cash plus borrows minus reserves."),
			borrowRate:   marketGauge("borrow_rate_per_block", "Borrow rate per block."),
			supplyRate:   marketGauge("supply_rate_per_block", "Supply rate per block."),
			sampled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "market",
				Name:      "samples_total",
				Help:      "Count of market samples observed at block commit.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.cash,
			marketRegistry.borrows,
			marketRegistry.reserves,
			marketRegistry.shares,
			marketRegistry.exchangeRate,
			marketRegistry.utilization,
			marketRegistry.borrowRate,
			marketRegistry.supplyRate,
			marketRegistry.sampled,
		)
	})
	return marketRegistry
}

// Observe publishes the committed samples. Mantissa values are scaled down
// by 1e18.
func (m *MarketMetrics) Observe(records []lendingstate.HistoryRecord) {
	if m == nil {
		return
	}
	for _, rec := range records {
		if rec.Market == "" {
			continue
		}
		m.cash.WithLabelValues(rec.Market).Set(units(rec.Cash))
		m.borrows.WithLabelValues(rec.Market).Set(units(rec.TotalBorrows))
		m.reserves.WithLabelValues(rec.Market).Set(units(rec.TotalReserves))
		m.shares.WithLabelValues(rec.Market).Set(units(rec.TotalShares))
		m.exchangeRate.WithLabelValues(rec.Market).Set(mantissa(rec.ExchangeRate))
		m.utilization.WithLabelValues(rec.Market).Set(mantissa(rec.Utilization))
		m.borrowRate.WithLabelValues(rec.Market).Set(mantissa(rec.BorrowRate))
		m.supplyRate.WithLabelValues(rec.Market).Set(mantissa(rec.SupplyRate))
		m.sampled.Inc()
	}
}

func units(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func mantissa(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), mantissaOne).Float64()
	return f
}
