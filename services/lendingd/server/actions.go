package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"moneymarket/crypto"
	"moneymarket/native/lending"
)

type amountRequest struct {
	Amount string `json:"amount"`
}

type sharesRequest struct {
	Shares string `json:"shares"`
}

type behalfRequest struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type liquidateRequest struct {
	Borrower   string `json:"borrower"`
	Collateral string `json:"collateral"`
	Amount     string `json:"amount"`
}

type transferRequest struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Shares string `json:"shares"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Shares  string `json:"shares"`
}

type membershipRequest struct {
	Markets []string `json:"markets"`
}

type exitRequest struct {
	Market string `json:"market"`
}

type claimRequest struct {
	Markets []string `json:"markets,omitempty"`
}

func (s *Server) mountActions(r chi.Router) {
	r.Post("/markets/{symbol}/mint", s.mint)
	r.Post("/markets/{symbol}/redeem", s.redeem)
	r.Post("/markets/{symbol}/redeem-underlying", s.redeemUnderlying)
	r.Post("/markets/{symbol}/borrow", s.borrow)
	r.Post("/markets/{symbol}/borrow-behalf", s.borrowBehalf)
	r.Post("/markets/{symbol}/repay", s.repay)
	r.Post("/markets/{symbol}/repay-behalf", s.repayBehalf)
	r.Post("/markets/{symbol}/liquidate", s.liquidate)
	r.Post("/markets/{symbol}/transfer", s.transfer)
	r.Post("/markets/{symbol}/approve", s.approve)
	r.Post("/markets/{symbol}/accrue", s.accrue)
	r.Post("/markets/{symbol}/reserves", s.addReserves)
	r.Post("/membership/enter", s.enterMarkets)
	r.Post("/membership/exit", s.exitMarket)
	r.Post("/rewards/claim", s.claimRewards)
}

// market resolves the {symbol} route parameter. Callers run inside an
// Execute or View.
func (s *Server) market(r *http.Request) (*lending.Market, error) {
	return s.node.Protocol().MarketBySymbol(chi.URLParam(r, "symbol"))
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "mint", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "mint", err)
		return
	}
	s.execute(w, r, "mint", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		shares, err := m.Mint(sender, value)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares": amount(shares)}, nil
	})
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "redeem", err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, r, "redeem", err)
		return
	}
	s.execute(w, r, "redeem", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		paid, err := m.Redeem(sender, shares)
		if err != nil {
			return nil, err
		}
		return map[string]string{"amount": amount(paid)}, nil
	})
}

func (s *Server) redeemUnderlying(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "redeem_underlying", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "redeem_underlying", err)
		return
	}
	s.execute(w, r, "redeem_underlying", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		burned, err := m.RedeemUnderlying(sender, value)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares": amount(burned)}, nil
	})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	s.execute(w, r, "borrow", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.Borrow(sender, value); err != nil {
			return nil, err
		}
		return map[string]string{"amount": amount(value)}, nil
	})
}

func (s *Server) borrowBehalf(w http.ResponseWriter, r *http.Request) {
	var req behalfRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "borrow_behalf", err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		s.fail(w, r, "borrow_behalf", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "borrow_behalf", err)
		return
	}
	s.execute(w, r, "borrow_behalf", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.BorrowBehalf(sender, borrower, value); err != nil {
			return nil, err
		}
		return map[string]string{"borrower": borrower.String(), "amount": amount(value)}, nil
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "repay", err)
		return
	}
	repay, err := parseRepay(req.Amount)
	if err != nil {
		s.fail(w, r, "repay", err)
		return
	}
	s.execute(w, r, "repay", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		repaid, err := m.RepayBorrow(sender, repay)
		if err != nil {
			return nil, err
		}
		return map[string]string{"repaid": amount(repaid)}, nil
	})
}

func (s *Server) repayBehalf(w http.ResponseWriter, r *http.Request) {
	var req behalfRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "repay_behalf", err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		s.fail(w, r, "repay_behalf", err)
		return
	}
	repay, err := parseRepay(req.Amount)
	if err != nil {
		s.fail(w, r, "repay_behalf", err)
		return
	}
	s.execute(w, r, "repay_behalf", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		repaid, err := m.RepayBorrowBehalf(sender, borrower, repay)
		if err != nil {
			return nil, err
		}
		return map[string]string{"borrower": borrower.String(), "repaid": amount(repaid)}, nil
	})
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "liquidate", err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		s.fail(w, r, "liquidate", err)
		return
	}
	repay, err := parseRepay(req.Amount)
	if err != nil {
		s.fail(w, r, "liquidate", err)
		return
	}
	s.execute(w, r, "liquidate", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		collateral, err := s.node.Protocol().MarketBySymbol(req.Collateral)
		if err != nil {
			return nil, err
		}
		seized, err := m.LiquidateBorrow(sender, borrower, repay, collateral)
		if err != nil {
			return nil, err
		}
		return map[string]string{"collateral": collateral.Symbol(), "seizedShares": amount(seized)}, nil
	})
}

// transfer moves shares from the sender, or from From using the sender's
// allowance when From is set.
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "transfer", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, "transfer", err)
		return
	}
	var from crypto.Address
	if strings.TrimSpace(req.From) != "" {
		if from, err = parseAddress("from", req.From); err != nil {
			s.fail(w, r, "transfer", err)
			return
		}
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, r, "transfer", err)
		return
	}
	s.execute(w, r, "transfer", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if from.IsZero() {
			err = m.Transfer(sender, to, shares)
		} else {
			err = m.TransferFrom(sender, from, to, shares)
		}
		if err != nil {
			return nil, err
		}
		return map[string]string{"to": to.String(), "shares": amount(shares)}, nil
	})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "approve", err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.fail(w, r, "approve", err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, r, "approve", err)
		return
	}
	s.execute(w, r, "approve", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.Approve(sender, spender, shares); err != nil {
			return nil, err
		}
		return map[string]string{"spender": spender.String(), "allowance": amount(m.Allowance(sender, spender))}, nil
	})
}

func (s *Server) accrue(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "accrue", func(crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.AccrueInterest(); err != nil {
			return nil, err
		}
		return map[string]string{
			"totalBorrows": amount(m.TotalBorrows()),
			"borrowIndex":  mantissa(m.BorrowIndex()),
		}, nil
	})
}

func (s *Server) addReserves(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "add_reserves", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "add_reserves", err)
		return
	}
	s.execute(w, r, "add_reserves", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		added, err := m.AddReserves(sender, value)
		if err != nil {
			return nil, err
		}
		return map[string]string{"added": amount(added), "totalReserves": amount(m.TotalReserves())}, nil
	})
}

func (s *Server) enterMarkets(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "enter_markets", err)
		return
	}
	s.execute(w, r, "enter_markets", func(sender crypto.Address) (any, error) {
		markets, err := s.marketAddresses(req.Markets)
		if err != nil {
			return nil, err
		}
		if err := s.node.Protocol().Comptroller().EnterMarkets(sender, markets); err != nil {
			return nil, err
		}
		return map[string]any{"assetsIn": s.assetsIn(sender)}, nil
	})
}

func (s *Server) exitMarket(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "exit_market", err)
		return
	}
	s.execute(w, r, "exit_market", func(sender crypto.Address) (any, error) {
		m, err := s.node.Protocol().MarketBySymbol(req.Market)
		if err != nil {
			return nil, err
		}
		if err := s.node.Protocol().Comptroller().ExitMarket(sender, m.Address()); err != nil {
			return nil, err
		}
		return map[string]any{"assetsIn": s.assetsIn(sender)}, nil
	})
}

// claimRewards pays out the sender's rewards across every market, or only
// the listed ones.
func (s *Server) claimRewards(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, "claim_rewards", err)
			return
		}
	}
	s.execute(w, r, "claim_rewards", func(sender crypto.Address) (any, error) {
		c := s.node.Protocol().Comptroller()
		if len(req.Markets) == 0 {
			paid, err := c.ClaimRewards(sender)
			if err != nil {
				return nil, err
			}
			return map[string]string{"paid": amount(paid), "accrued": amount(c.RewardAccrued(sender))}, nil
		}
		markets, err := s.marketAddresses(req.Markets)
		if err != nil {
			return nil, err
		}
		if err := c.ClaimRewardsIn([]crypto.Address{sender}, markets, true, true); err != nil {
			return nil, err
		}
		return map[string]string{"accrued": amount(c.RewardAccrued(sender))}, nil
	})
}

func (s *Server) marketAddresses(symbols []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(symbols))
	for _, symbol := range symbols {
		m, err := s.node.Protocol().MarketBySymbol(symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, m.Address())
	}
	return out, nil
}

func (s *Server) assetsIn(account crypto.Address) []string {
	p := s.node.Protocol()
	var out []string
	for _, addr := range p.Comptroller().AssetsIn(account) {
		if m, err := p.Market(addr); err == nil {
			out = append(out, m.Symbol())
		}
	}
	return out
}

func parseAmount(field, value string) (*uint256.Int, error) {
	v, err := lending.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func parseMantissa(field, value string) (*uint256.Int, error) {
	v, err := lending.ParseMantissa(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

// parseRepay accepts an integer amount or "max" for the full debt.
func parseRepay(value string) (lending.RepayAmount, error) {
	if strings.EqualFold(strings.TrimSpace(value), "max") {
		return lending.RepayFull(), nil
	}
	v, err := parseAmount("amount", value)
	if err != nil {
		return lending.RepayAmount{}, err
	}
	return lending.RepayExact(v), nil
}
