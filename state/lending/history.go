package lending

import (
	"fmt"

	nativelending "moneymarket/native/lending"
)

// Sample reads the stored pricing inputs of every market at the protocol's
// current height. Markets are not accrued first.
func Sample(p *nativelending.Protocol) ([]HistoryRecord, error) {
	var out []HistoryRecord
	err := p.View(func() error {
		height := p.BlockHeight()
		for _, m := range p.Markets() {
			rate, err := m.ExchangeRateStored()
			if err != nil {
				return fmt.Errorf("market %s: %w", m.Symbol(), err)
			}
			cash := m.Cash()
			borrows := m.TotalBorrows()
			reserves := m.TotalReserves()
			util, err := nativelending.Utilization(cash, borrows, reserves)
			if err != nil {
				return fmt.Errorf("market %s: %w", m.Symbol(), err)
			}
			borrowRate, err := m.BorrowRatePerBlock()
			if err != nil {
				return fmt.Errorf("market %s: %w", m.Symbol(), err)
			}
			supplyRate, err := m.SupplyRatePerBlock()
			if err != nil {
				return fmt.Errorf("market %s: %w", m.Symbol(), err)
			}
			out = append(out, HistoryRecord{
				Market:        m.Address().String(),
				Height:        height,
				Cash:          cash.ToBig(),
				TotalBorrows:  borrows.ToBig(),
				TotalReserves: reserves.ToBig(),
				TotalShares:   m.TotalShares().ToBig(),
				ExchangeRate:  rate.ToBig(),
				Utilization:   util.ToBig(),
				BorrowRate:    borrowRate.ToBig(),
				SupplyRate:    supplyRate.ToBig(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
