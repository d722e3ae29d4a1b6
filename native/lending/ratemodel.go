package lending

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// DefaultBlocksPerYear assumes 15 second blocks.
const DefaultBlocksPerYear = 2_102_400

// InterestRateModel derives per-block rates from a market's balances.
type InterestRateModel interface {
	BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error)
}

// JumpRateParams are the annualised inputs of a JumpRateModel. Rates and the
// kink are 1e18 mantissas.
type JumpRateParams struct {
	BaseRatePerYear       *uint256.Int
	MultiplierPerYear     *uint256.Int
	JumpMultiplierPerYear *uint256.Int
	Kink                  *uint256.Int
	BlocksPerYear         uint64
}

// JumpRateModel is a kinked utilisation curve. Below the kink the borrow rate
// grows with the multiplier; at and above it the jump multiplier applies.
type JumpRateModel struct {
	mu sync.RWMutex

	name    string
	owner   crypto.Address
	emitter events.Emitter

	// base, multiplier and jump are per-block mantissas.
	base          *uint256.Int
	multiplier    *uint256.Int
	jump          *uint256.Int
	kink          *uint256.Int
	blocksPerYear uint64
}

// NewJumpRateModel builds a model owned by owner from annualised parameters.
func NewJumpRateModel(name string, owner crypto.Address, params JumpRateParams, emitter events.Emitter) (*JumpRateModel, error) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m := &JumpRateModel{name: name, owner: owner, emitter: emitter}
	if err := m.apply(params); err != nil {
		return nil, err
	}
	return m, nil
}

// Update recomputes the per-block parameters. Only the owner may update.
func (m *JumpRateModel) Update(caller crypto.Address, params JumpRateParams) error {
	if m == nil {
		return ErrInvalidRateModel
	}
	if caller != m.owner || m.owner.IsZero() {
		return ErrUnauthorized
	}
	return m.apply(params)
}

func (m *JumpRateModel) apply(params JumpRateParams) error {
	if params.BlocksPerYear == 0 {
		params.BlocksPerYear = DefaultBlocksPerYear
	}
	kink := orZero(params.Kink)
	if kink.IsZero() || kink.Gt(mantissaOne) {
		return fmt.Errorf("%w: kink must be within (0, 1]", ErrInvalidRateModel)
	}
	blocks := u(params.BlocksPerYear)
	base := new(uint256.Int).Div(orZero(params.BaseRatePerYear), blocks)
	multiplier := new(uint256.Int).Div(orZero(params.MultiplierPerYear), blocks)
	jump := new(uint256.Int).Div(orZero(params.JumpMultiplierPerYear), blocks)

	m.mu.Lock()
	m.base, m.multiplier, m.jump, m.kink = base, multiplier, jump, clone(kink)
	m.blocksPerYear = params.BlocksPerYear
	m.mu.Unlock()

	m.emitter.Emit(events.LendingInterestParams{
		Model:          m.name,
		BaseRate:       clone(base),
		Multiplier:     clone(multiplier),
		JumpMultiplier: clone(jump),
		Kink:           clone(kink),
	})
	return nil
}

// Utilization returns borrows / (cash + borrows - reserves) as a mantissa.
func Utilization(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	if orZero(borrows).IsZero() {
		return new(uint256.Int), nil
	}
	var a arith
	denom := a.sub(a.add(orZero(cash), borrows), orZero(reserves))
	util := a.div(a.mul(borrows, expScale), denom)
	if a.err != nil {
		return nil, a.err
	}
	return util, nil
}

// BorrowRate implements InterestRateModel. The jump branch adds the base rate
// before the final division, so base contributes base/1e18 there.
func (m *JumpRateModel) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var a arith
	var rate *uint256.Int
	if util.Lt(m.kink) {
		rate = a.add(a.div(a.mul(util, m.multiplier), expScale), m.base)
	} else {
		excess := a.mul(a.sub(util, m.kink), m.jump)
		normal := a.mul(m.kink, m.multiplier)
		rate = a.div(a.add(a.add(excess, normal), m.base), expScale)
	}
	if a.err != nil {
		return nil, a.err
	}
	return rate, nil
}

// SupplyRate implements InterestRateModel.
func (m *JumpRateModel) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	var a arith
	oneMinus := a.sub(mantissaOne, orZero(reserveFactor))
	rate := a.div(a.div(a.mul(a.mul(util, borrowRate), oneMinus), expScale), expScale)
	if a.err != nil {
		return nil, a.err
	}
	return rate, nil
}

// Params returns the per-block parameters currently in effect.
func (m *JumpRateModel) Params() (base, multiplier, jump, kink *uint256.Int, blocksPerYear uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.base), clone(m.multiplier), clone(m.jump), clone(m.kink), m.blocksPerYear
}

// Owner returns the address allowed to update the model.
func (m *JumpRateModel) Owner() crypto.Address { return m.owner }

// String returns the model name used in audit records.
func (m *JumpRateModel) String() string { return m.name }

// Checkpoint implements Revertible.
func (m *JumpRateModel) Checkpoint() func() {
	m.mu.RLock()
	base, multiplier, jump, kink, blocks := m.base, m.multiplier, m.jump, m.kink, m.blocksPerYear
	m.mu.RUnlock()
	return func() {
		m.mu.Lock()
		m.base, m.multiplier, m.jump, m.kink, m.blocksPerYear = base, multiplier, jump, kink, blocks
		m.mu.Unlock()
	}
}

func modelName(model InterestRateModel) string {
	if model == nil {
		return ""
	}
	if s, ok := model.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", model)
}

// restore installs per-block parameters without recomputing or emitting.
func (m *JumpRateModel) restore(base, multiplier, jump, kink *uint256.Int, blocksPerYear uint64) error {
	if orZero(kink).IsZero() || kink.Gt(mantissaOne) {
		return fmt.Errorf("%w: kink must be within (0, 1]", ErrInvalidRateModel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base, m.multiplier, m.jump, m.kink = clone(base), clone(multiplier), clone(jump), clone(kink)
	m.blocksPerYear = blocksPerYear
	return nil
}
