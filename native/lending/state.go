package lending

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

// State is the persistable snapshot of a Protocol. Amounts are big integers
// and addresses bech32 strings so the value encodes directly with RLP.
// Lists are sorted so equal states encode to equal bytes.
type State struct {
	Height      uint64
	RateModels  []RateModelRecord
	Markets     []MarketRecord
	Comptroller ComptrollerRecord
}

// AdminRecord captures an AdminHandover.
type AdminRecord struct {
	Admin   string
	Pending string
	State   uint8
}

// RateModelRecord captures the per-block parameters of a jump rate model.
type RateModelRecord struct {
	Name           string
	Owner          string
	BaseRate       *big.Int
	Multiplier     *big.Int
	JumpMultiplier *big.Int
	Kink           *big.Int
	BlocksPerYear  uint64
}

// MarketRecord captures the mutable ledger of a market.
type MarketRecord struct {
	Address            string
	Symbol             string
	RateModel          string
	Admin              AdminRecord
	TotalShares        *big.Int
	TotalBorrows       *big.Int
	TotalReserves      *big.Int
	BorrowIndex        *big.Int
	AccrualHeight      uint64
	ReserveFactor      *big.Int
	ProtocolSeizeShare *big.Int
	Shares             []ShareRecord
	Borrows            []BorrowRecord
	Allowances         []AllowanceRecord
}

type ShareRecord struct {
	Account string
	Shares  *big.Int
}

type BorrowRecord struct {
	Account       string
	Principal     *big.Int
	InterestIndex *big.Int
}

type AllowanceRecord struct {
	Owner   string
	Spender string
	Shares  *big.Int
}

// ComptrollerRecord captures the risk engine tables and the flywheel.
type ComptrollerRecord struct {
	Admin                AdminRecord
	CloseFactor          *big.Int
	LiquidationIncentive *big.Int
	PauseGuardian        string
	BorrowCapGuardian    string
	TrustedCaller        string
	TransferPaused       bool
	SeizePaused          bool
	// Listed preserves listing order.
	Listed        []ListingRecord
	Membership    []MembershipRecord
	SupplierIndex []AccountIndexRecord
	BorrowerIndex []AccountIndexRecord
	Accrued       []AccruedRecord
}

type ListingRecord struct {
	Market           string
	CollateralFactor *big.Int
	BorrowCap        *big.Int
	MintPaused       bool
	BorrowPaused     bool
	SupplySpeed      *big.Int
	BorrowSpeed      *big.Int
	SupplyIndex      *big.Int
	SupplyHeight     uint64
	BorrowIndex      *big.Int
	BorrowHeight     uint64
}

// MembershipRecord keeps the entered markets of an account in list order.
type MembershipRecord struct {
	Account string
	Markets []string
}

type AccountIndexRecord struct {
	Market  string
	Account string
	Index   *big.Int
}

type AccruedRecord struct {
	Account string
	Amount  *big.Int
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value in state", ErrInvalidArguments)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

func decodeAddress(s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(s)
}

func adminRecord(h AdminHandover) AdminRecord {
	return AdminRecord{Admin: h.admin.String(), Pending: h.pending.String(), State: uint8(h.state)}
}

func (r AdminRecord) handover() (AdminHandover, error) {
	admin, err := decodeAddress(r.Admin)
	if err != nil {
		return AdminHandover{}, fmt.Errorf("admin: %w", err)
	}
	pending, err := decodeAddress(r.Pending)
	if err != nil {
		return AdminHandover{}, fmt.Errorf("pending admin: %w", err)
	}
	if r.State > uint8(AdminAccepted) {
		return AdminHandover{}, fmt.Errorf("%w: handover state %d", ErrInvalidArguments, r.State)
	}
	return AdminHandover{admin: admin, pending: pending, state: HandoverState(r.State)}, nil
}

// decoder collects the first conversion error so Import reads linearly.
type decoder struct {
	err error
}

func (d *decoder) amount(v *big.Int) *uint256.Int {
	if d.err != nil {
		return new(uint256.Int)
	}
	out, err := fromBig(v)
	if err != nil {
		d.err = err
		return new(uint256.Int)
	}
	return out
}

func (d *decoder) address(s string) crypto.Address {
	if d.err != nil {
		return crypto.Address{}
	}
	addr, err := decodeAddress(s)
	if err != nil {
		d.err = fmt.Errorf("address %q: %w", s, err)
	}
	return addr
}

// Export snapshots the host under the host lock, so it must not be called
// from inside Execute or View.
func (p *Protocol) Export() (State, error) {
	return p.ExportWith(nil)
}

// ExportWith is Export that also runs capture under the host lock, so
// registered participants can be snapshotted at the same point.
func (p *Protocol) ExportWith(capture func()) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capture != nil {
		capture()
	}
	state := State{Height: p.BlockHeight()}
	for _, name := range p.RateModels() {
		model := p.models[name]
		base, multiplier, jump, kink, blocks := model.Params()
		state.RateModels = append(state.RateModels, RateModelRecord{
			Name:           name,
			Owner:          model.Owner().String(),
			BaseRate:       toBig(base),
			Multiplier:     toBig(multiplier),
			JumpMultiplier: toBig(jump),
			Kink:           toBig(kink),
			BlocksPerYear:  blocks,
		})
	}
	for _, m := range p.markets {
		state.Markets = append(state.Markets, m.record())
	}
	if p.comptroller != nil {
		state.Comptroller = p.comptroller.record()
	}
	return state, nil
}

func (m *Market) record() MarketRecord {
	l := m.l
	rec := MarketRecord{
		Address:            m.address.String(),
		Symbol:             m.symbol,
		RateModel:          modelName(l.rateModel),
		Admin:              adminRecord(l.admin),
		TotalShares:        toBig(l.totalShares),
		TotalBorrows:       toBig(l.totalBorrows),
		TotalReserves:      toBig(l.totalReserves),
		BorrowIndex:        toBig(l.borrowIndex),
		AccrualHeight:      l.accrualHeight,
		ReserveFactor:      toBig(l.reserveFactor),
		ProtocolSeizeShare: toBig(l.protocolSeizeShare),
	}
	for account, shares := range l.shares {
		if orZero(shares).IsZero() {
			continue
		}
		rec.Shares = append(rec.Shares, ShareRecord{Account: account.String(), Shares: toBig(shares)})
	}
	sort.Slice(rec.Shares, func(i, j int) bool { return rec.Shares[i].Account < rec.Shares[j].Account })
	for account, snap := range l.borrows {
		if orZero(snap.Principal).IsZero() {
			continue
		}
		rec.Borrows = append(rec.Borrows, BorrowRecord{
			Account:       account.String(),
			Principal:     toBig(snap.Principal),
			InterestIndex: toBig(snap.InterestIndex),
		})
	}
	sort.Slice(rec.Borrows, func(i, j int) bool { return rec.Borrows[i].Account < rec.Borrows[j].Account })
	for key, shares := range l.allowances {
		rec.Allowances = append(rec.Allowances, AllowanceRecord{Owner: key.owner.String(), Spender: key.spender.String(), Shares: toBig(shares)})
	}
	sort.Slice(rec.Allowances, func(i, j int) bool {
		if rec.Allowances[i].Owner != rec.Allowances[j].Owner {
			return rec.Allowances[i].Owner < rec.Allowances[j].Owner
		}
		return rec.Allowances[i].Spender < rec.Allowances[j].Spender
	})
	return rec
}

func (c *Comptroller) record() ComptrollerRecord {
	s := c.s
	f := s.rewards
	rec := ComptrollerRecord{
		Admin:                adminRecord(s.admin),
		CloseFactor:          toBig(s.closeFactor),
		LiquidationIncentive: toBig(s.liquidationIncentive),
		PauseGuardian:        s.pauseGuardian.String(),
		BorrowCapGuardian:    s.borrowCapGuardian.String(),
		TrustedCaller:        s.trustedCaller.String(),
		TransferPaused:       s.transferPaused,
		SeizePaused:          s.seizePaused,
	}
	for _, addr := range s.allMarkets {
		entry := s.markets[addr]
		supply, borrow := f.supplyState[addr], f.borrowState[addr]
		rec.Listed = append(rec.Listed, ListingRecord{
			Market:           addr.String(),
			CollateralFactor: toBig(entry.collateralFactor),
			BorrowCap:        toBig(entry.borrowCap),
			MintPaused:       entry.mintPaused,
			BorrowPaused:     entry.borrowPaused,
			SupplySpeed:      toBig(f.supplySpeeds[addr]),
			BorrowSpeed:      toBig(f.borrowSpeeds[addr]),
			SupplyIndex:      toBig(supply.index),
			SupplyHeight:     supply.height,
			BorrowIndex:      toBig(borrow.index),
			BorrowHeight:     borrow.height,
		})
	}
	for account, list := range s.membership.assets {
		row := MembershipRecord{Account: account.String()}
		for _, market := range list {
			row.Markets = append(row.Markets, market.String())
		}
		rec.Membership = append(rec.Membership, row)
	}
	sort.Slice(rec.Membership, func(i, j int) bool { return rec.Membership[i].Account < rec.Membership[j].Account })
	rec.SupplierIndex = indexRecords(f.supplierIndex)
	rec.BorrowerIndex = indexRecords(f.borrowerIndex)
	for account, amount := range f.accrued {
		if orZero(amount).IsZero() {
			continue
		}
		rec.Accrued = append(rec.Accrued, AccruedRecord{Account: account.String(), Amount: toBig(amount)})
	}
	sort.Slice(rec.Accrued, func(i, j int) bool { return rec.Accrued[i].Account < rec.Accrued[j].Account })
	return rec
}

func indexRecords(indices map[rewardKey]*uint256.Int) []AccountIndexRecord {
	out := make([]AccountIndexRecord, 0, len(indices))
	for key, index := range indices {
		out = append(out, AccountIndexRecord{Market: key.market.String(), Account: key.account.String(), Index: toBig(index)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].Account < out[j].Account
	})
	return out
}

// Import replaces the mutable state of an already built host with state.
// Every market and rate model in state must already be registered, and the
// risk engine must list exactly the markets recorded. Nothing changes when
// Import fails.
func (p *Protocol) Import(state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted != nil {
		return ErrHalted
	}
	if p.comptroller == nil {
		return fmt.Errorf("%w: risk engine not installed", ErrInvalidArguments)
	}
	if state.Height < p.BlockHeight() {
		return fmt.Errorf("%w: state height %d below host height %d", ErrHeightRegressed, state.Height, p.BlockHeight())
	}

	restores := make([]func(), len(p.participants))
	for i, participant := range p.participants {
		restores[i] = participant.Checkpoint()
	}
	err := p.importLocked(state)
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	p.height.Store(state.Height)
	p.logger.Info("lending state imported", "height", state.Height, "markets", len(state.Markets))
	return nil
}

func (p *Protocol) importLocked(state State) error {
	for _, rec := range state.RateModels {
		model, ok := p.models[rec.Name]
		if !ok {
			return fmt.Errorf("%w: rate model %s", ErrInvalidRateModel, rec.Name)
		}
		var d decoder
		base, multiplier, jump, kink := d.amount(rec.BaseRate), d.amount(rec.Multiplier), d.amount(rec.JumpMultiplier), d.amount(rec.Kink)
		d.address(rec.Owner)
		if d.err != nil {
			return fmt.Errorf("rate model %s: %w", rec.Name, d.err)
		}
		if err := model.restore(base, multiplier, jump, kink, rec.BlocksPerYear); err != nil {
			return err
		}
	}
	for _, rec := range state.Markets {
		if err := p.importMarket(rec); err != nil {
			return fmt.Errorf("market %s: %w", rec.Symbol, err)
		}
	}
	return p.comptroller.restore(state.Comptroller)
}

func (p *Protocol) importMarket(rec MarketRecord) error {
	addr, err := decodeAddress(rec.Address)
	if err != nil {
		return err
	}
	m, ok := p.byAddress[addr]
	if !ok {
		return ErrUnknownMarket
	}
	model, ok := p.models[rec.RateModel]
	if !ok {
		return fmt.Errorf("%w: rate model %s", ErrInvalidRateModel, rec.RateModel)
	}
	admin, err := rec.Admin.handover()
	if err != nil {
		return err
	}
	var d decoder
	l := &marketLedger{
		totalShares:        d.amount(rec.TotalShares),
		totalBorrows:       d.amount(rec.TotalBorrows),
		totalReserves:      d.amount(rec.TotalReserves),
		borrowIndex:        d.amount(rec.BorrowIndex),
		accrualHeight:      rec.AccrualHeight,
		reserveFactor:      d.amount(rec.ReserveFactor),
		protocolSeizeShare: d.amount(rec.ProtocolSeizeShare),
		shares:             make(map[crypto.Address]*uint256.Int, len(rec.Shares)),
		borrows:            make(map[crypto.Address]BorrowSnapshot, len(rec.Borrows)),
		allowances:         make(map[allowanceKey]*uint256.Int, len(rec.Allowances)),
		admin:              admin,
		controller:         m.l.controller,
		rateModel:          model,
	}
	sum := new(uint256.Int)
	for _, row := range rec.Shares {
		shares := d.amount(row.Shares)
		l.shares[d.address(row.Account)] = shares
		sum = new(uint256.Int).Add(sum, shares)
	}
	for _, row := range rec.Borrows {
		l.borrows[d.address(row.Account)] = BorrowSnapshot{Principal: d.amount(row.Principal), InterestIndex: d.amount(row.InterestIndex)}
	}
	for _, row := range rec.Allowances {
		l.allowances[allowanceKey{owner: d.address(row.Owner), spender: d.address(row.Spender)}] = d.amount(row.Shares)
	}
	if d.err != nil {
		return d.err
	}
	if l.borrowIndex.IsZero() {
		return fmt.Errorf("%w: zero borrow index", ErrInvalidArguments)
	}
	if !sum.Eq(l.totalShares) {
		return fmt.Errorf("%w: share balances do not sum to total", ErrTokenAccounting)
	}
	m.l = l
	return nil
}

func (c *Comptroller) restore(rec ComptrollerRecord) error {
	admin, err := rec.Admin.handover()
	if err != nil {
		return err
	}
	var d decoder
	s := &comptrollerState{
		admin:                admin,
		oracle:               c.s.oracle,
		closeFactor:          d.amount(rec.CloseFactor),
		liquidationIncentive: d.amount(rec.LiquidationIncentive),
		pauseGuardian:        d.address(rec.PauseGuardian),
		borrowCapGuardian:    d.address(rec.BorrowCapGuardian),
		trustedCaller:        d.address(rec.TrustedCaller),
		transferPaused:       rec.TransferPaused,
		seizePaused:          rec.SeizePaused,
		markets:              make(map[crypto.Address]marketEntry, len(rec.Listed)),
		membership:           newMembershipIndex(),
		rewards:              newFlywheel(),
	}
	if len(rec.Listed) != len(c.s.allMarkets) {
		return fmt.Errorf("%w: %d markets recorded, %d listed", ErrUnknownMarket, len(rec.Listed), len(c.s.allMarkets))
	}
	for _, row := range rec.Listed {
		addr := d.address(row.Market)
		current, ok := c.s.markets[addr]
		if d.err == nil && (!ok || !current.listed) {
			return fmt.Errorf("%w: %s", ErrUnknownMarket, row.Market)
		}
		s.markets[addr] = marketEntry{
			market:           current.market,
			listed:           true,
			collateralFactor: d.amount(row.CollateralFactor),
			borrowCap:        d.amount(row.BorrowCap),
			mintPaused:       row.MintPaused,
			borrowPaused:     row.BorrowPaused,
		}
		s.allMarkets = append(s.allMarkets, addr)
		s.rewards.supplySpeeds[addr] = d.amount(row.SupplySpeed)
		s.rewards.borrowSpeeds[addr] = d.amount(row.BorrowSpeed)
		s.rewards.supplyState[addr] = indexState{index: d.amount(row.SupplyIndex), height: row.SupplyHeight}
		s.rewards.borrowState[addr] = indexState{index: d.amount(row.BorrowIndex), height: row.BorrowHeight}
	}
	for _, row := range rec.Membership {
		account := d.address(row.Account)
		for _, market := range row.Markets {
			addr := d.address(market)
			if d.err == nil {
				if _, ok := s.markets[addr]; !ok {
					return fmt.Errorf("%w: member of %s", ErrUnknownMarket, market)
				}
			}
			s.membership.add(account, addr)
		}
		if err := s.membership.verify(account); err != nil {
			return err
		}
	}
	for _, row := range rec.SupplierIndex {
		s.rewards.supplierIndex[rewardKey{market: d.address(row.Market), account: d.address(row.Account)}] = d.amount(row.Index)
	}
	for _, row := range rec.BorrowerIndex {
		s.rewards.borrowerIndex[rewardKey{market: d.address(row.Market), account: d.address(row.Account)}] = d.amount(row.Index)
	}
	for _, row := range rec.Accrued {
		s.rewards.accrued[d.address(row.Account)] = d.amount(row.Amount)
	}
	if d.err != nil {
		return d.err
	}
	if s.closeFactor.Lt(closeFactorMin) || s.closeFactor.Gt(closeFactorMax) {
		return ErrInvalidCloseFactor
	}
	if s.liquidationIncentive.Lt(liquidationIncentiveMin) || s.liquidationIncentive.Gt(liquidationIncentiveMax) {
		return ErrInvalidLiquidationIncentive
	}
	c.s = s
	return nil
}
