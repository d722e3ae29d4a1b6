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

type valueRequest struct {
	Value string `json:"value"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type pauseRequest struct {
	Action string `json:"action"`
	Paused bool   `json:"paused"`
}

type speedsRequest struct {
	Supply string `json:"supply"`
	Borrow string `json:"borrow"`
}

type rateModelRequest struct {
	Model string `json:"model"`
}

type rateParamsRequest struct {
	BaseRatePerYear       string `json:"baseRatePerYear"`
	MultiplierPerYear     string `json:"multiplierPerYear"`
	JumpMultiplierPerYear string `json:"jumpMultiplierPerYear"`
	Kink                  string `json:"kink"`
	BlocksPerYear         uint64 `json:"blocksPerYear"`
}

type grantRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type moduleRequest struct {
	Key    string `json:"key"`
	Paused bool   `json:"paused"`
}

type faucetRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// mountGuardian registers operations open to guardians as well as the
// admin. The risk engine authorizes the sender.
func (s *Server) mountGuardian(r chi.Router) {
	r.Post("/markets/{symbol}/pause", s.pauseMarket)
	r.Post("/markets/{symbol}/borrow-cap", s.setBorrowCap)
	r.Post("/markets/{symbol}/accept-admin", s.acceptMarketAdmin)
	r.Post("/protocol/pause", s.pauseProtocol)
	r.Post("/protocol/accept-admin", s.acceptAdmin)
}

func (s *Server) mountAdmin(r chi.Router) {
	r.Post("/markets/{symbol}/reserve-factor", s.setReserveFactor)
	r.Post("/markets/{symbol}/protocol-seize-share", s.setProtocolSeizeShare)
	r.Post("/markets/{symbol}/collateral-factor", s.setCollateralFactor)
	r.Post("/markets/{symbol}/reward-speeds", s.setRewardSpeeds)
	r.Post("/markets/{symbol}/reserves/reduce", s.reduceReserves)
	r.Post("/markets/{symbol}/rate-model", s.setRateModel)
	r.Post("/markets/{symbol}/pending-admin", s.setMarketPendingAdmin)
	r.Post("/rate-models/{name}", s.updateRateModel)
	r.Post("/close-factor", s.setCloseFactor)
	r.Post("/liquidation-incentive", s.setLiquidationIncentive)
	r.Post("/pause-guardian", s.setPauseGuardian)
	r.Post("/borrow-cap-guardian", s.setBorrowCapGuardian)
	r.Post("/trusted-caller", s.setTrustedCaller)
	r.Post("/pending-admin", s.setPendingAdmin)
	r.Post("/rewards/grant", s.grantReward)
	r.Post("/prices/{symbol}", s.setPrice)
	r.Post("/faucet", s.faucet)
	r.Get("/modules", s.listPausedModules)
	r.Post("/modules", s.pauseModule)
}

// marketMantissa decodes a {value} body and applies it to the routed market.
func (s *Server) marketMantissa(w http.ResponseWriter, r *http.Request, action string, apply func(m *lending.Market, sender crypto.Address, v *uint256.Int) error) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, action, err)
		return
	}
	value, err := parseMantissa("value", req.Value)
	if err != nil {
		s.fail(w, r, action, err)
		return
	}
	s.execute(w, r, action, func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := apply(m, sender, value); err != nil {
			return nil, err
		}
		return map[string]string{"market": m.Symbol(), "value": mantissa(value)}, nil
	})
}

func (s *Server) setReserveFactor(w http.ResponseWriter, r *http.Request) {
	s.marketMantissa(w, r, "set_reserve_factor", func(m *lending.Market, sender crypto.Address, v *uint256.Int) error {
		return m.SetReserveFactor(sender, v)
	})
}

func (s *Server) setProtocolSeizeShare(w http.ResponseWriter, r *http.Request) {
	s.marketMantissa(w, r, "set_protocol_seize_share", func(m *lending.Market, sender crypto.Address, v *uint256.Int) error {
		return m.SetProtocolSeizeShare(sender, v)
	})
}

func (s *Server) setCollateralFactor(w http.ResponseWriter, r *http.Request) {
	s.marketMantissa(w, r, "set_collateral_factor", func(m *lending.Market, sender crypto.Address, v *uint256.Int) error {
		return s.node.Protocol().Comptroller().SetCollateralFactor(sender, m.Address(), v)
	})
}

func (s *Server) setRewardSpeeds(w http.ResponseWriter, r *http.Request) {
	var req speedsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "set_reward_speeds", err)
		return
	}
	supply, err := parseAmount("supply", req.Supply)
	if err != nil {
		s.fail(w, r, "set_reward_speeds", err)
		return
	}
	borrow, err := parseAmount("borrow", req.Borrow)
	if err != nil {
		s.fail(w, r, "set_reward_speeds", err)
		return
	}
	s.execute(w, r, "set_reward_speeds", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		err = s.node.Protocol().Comptroller().SetRewardSpeeds(sender, []crypto.Address{m.Address()}, []*uint256.Int{supply}, []*uint256.Int{borrow})
		if err != nil {
			return nil, err
		}
		return map[string]string{"supply": amount(supply), "borrow": amount(borrow)}, nil
	})
}

func (s *Server) reduceReserves(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "reduce_reserves", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "reduce_reserves", err)
		return
	}
	s.execute(w, r, "reduce_reserves", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.ReduceReserves(sender, value); err != nil {
			return nil, err
		}
		return map[string]string{"totalReserves": amount(m.TotalReserves())}, nil
	})
}

func (s *Server) setRateModel(w http.ResponseWriter, r *http.Request) {
	var req rateModelRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "set_rate_model", err)
		return
	}
	s.execute(w, r, "set_rate_model", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		model, ok := s.node.Protocol().RateModel(strings.TrimSpace(req.Model))
		if !ok {
			return nil, fmt.Errorf("%w: unknown rate model %q", errBadRequest, req.Model)
		}
		if err := m.SetInterestRateModel(sender, model); err != nil {
			return nil, err
		}
		return map[string]string{"market": m.Symbol(), "model": model.String()}, nil
	})
}

func (s *Server) updateRateModel(w http.ResponseWriter, r *http.Request) {
	var req rateParamsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "update_rate_model", err)
		return
	}
	var params lending.JumpRateParams
	fields := []struct {
		name  string
		value string
		dst   **uint256.Int
	}{
		{"baseRatePerYear", req.BaseRatePerYear, &params.BaseRatePerYear},
		{"multiplierPerYear", req.MultiplierPerYear, &params.MultiplierPerYear},
		{"jumpMultiplierPerYear", req.JumpMultiplierPerYear, &params.JumpMultiplierPerYear},
		{"kink", req.Kink, &params.Kink},
	}
	for _, f := range fields {
		v, err := parseMantissa(f.name, f.value)
		if err != nil {
			s.fail(w, r, "update_rate_model", err)
			return
		}
		*f.dst = v
	}
	params.BlocksPerYear = req.BlocksPerYear
	name := chi.URLParam(r, "name")
	s.execute(w, r, "update_rate_model", func(sender crypto.Address) (any, error) {
		model, ok := s.node.Protocol().RateModel(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown rate model %q", errBadRequest, name)
		}
		if err := model.Update(sender, params); err != nil {
			return nil, err
		}
		base, multiplier, jump, kink, blocks := model.Params()
		return map[string]any{
			"baseRatePerBlock":       mantissa(base),
			"multiplierPerBlock":     mantissa(multiplier),
			"jumpMultiplierPerBlock": mantissa(jump),
			"kink":                   mantissa(kink),
			"blocksPerYear":          blocks,
		}, nil
	})
}

// protocolMantissa decodes a {value} body and applies it to the risk engine.
func (s *Server) protocolMantissa(w http.ResponseWriter, r *http.Request, action string, apply func(c *lending.Comptroller, sender crypto.Address, v *uint256.Int) error) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, action, err)
		return
	}
	value, err := parseMantissa("value", req.Value)
	if err != nil {
		s.fail(w, r, action, err)
		return
	}
	s.execute(w, r, action, func(sender crypto.Address) (any, error) {
		if err := apply(s.node.Protocol().Comptroller(), sender, value); err != nil {
			return nil, err
		}
		return map[string]string{"value": mantissa(value)}, nil
	})
}

func (s *Server) setCloseFactor(w http.ResponseWriter, r *http.Request) {
	s.protocolMantissa(w, r, "set_close_factor", func(c *lending.Comptroller, sender crypto.Address, v *uint256.Int) error {
		return c.SetCloseFactor(sender, v)
	})
}

func (s *Server) setLiquidationIncentive(w http.ResponseWriter, r *http.Request) {
	s.protocolMantissa(w, r, "set_liquidation_incentive", func(c *lending.Comptroller, sender crypto.Address, v *uint256.Int) error {
		return c.SetLiquidationIncentive(sender, v)
	})
}

// protocolAddress decodes an {address} body and applies it to the risk
// engine.
func (s *Server) protocolAddress(w http.ResponseWriter, r *http.Request, action string, apply func(c *lending.Comptroller, sender, addr crypto.Address) error) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, action, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, action, err)
		return
	}
	s.execute(w, r, action, func(sender crypto.Address) (any, error) {
		if err := apply(s.node.Protocol().Comptroller(), sender, addr); err != nil {
			return nil, err
		}
		return map[string]string{"address": addr.String()}, nil
	})
}

func (s *Server) setPauseGuardian(w http.ResponseWriter, r *http.Request) {
	s.protocolAddress(w, r, "set_pause_guardian", func(c *lending.Comptroller, sender, addr crypto.Address) error {
		return c.SetPauseGuardian(sender, addr)
	})
}

func (s *Server) setBorrowCapGuardian(w http.ResponseWriter, r *http.Request) {
	s.protocolAddress(w, r, "set_borrow_cap_guardian", func(c *lending.Comptroller, sender, addr crypto.Address) error {
		return c.SetBorrowCapGuardian(sender, addr)
	})
}

func (s *Server) setTrustedCaller(w http.ResponseWriter, r *http.Request) {
	s.protocolAddress(w, r, "set_trusted_caller", func(c *lending.Comptroller, sender, addr crypto.Address) error {
		return c.SetTrustedCaller(sender, addr)
	})
}

func (s *Server) setPendingAdmin(w http.ResponseWriter, r *http.Request) {
	s.protocolAddress(w, r, "set_pending_admin", func(c *lending.Comptroller, sender, addr crypto.Address) error {
		return c.SetPendingAdmin(sender, addr)
	})
}

func (s *Server) acceptAdmin(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "accept_admin", func(sender crypto.Address) (any, error) {
		c := s.node.Protocol().Comptroller()
		if err := c.AcceptAdmin(sender); err != nil {
			return nil, err
		}
		return map[string]string{"admin": c.Admin().Admin().String()}, nil
	})
}

func (s *Server) setMarketPendingAdmin(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "set_market_pending_admin", err)
		return
	}
	next, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, "set_market_pending_admin", err)
		return
	}
	s.execute(w, r, "set_market_pending_admin", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.SetPendingAdmin(sender, next); err != nil {
			return nil, err
		}
		return map[string]string{"market": m.Symbol(), "pendingAdmin": next.String()}, nil
	})
}

func (s *Server) acceptMarketAdmin(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "accept_market_admin", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		if err := m.AcceptAdmin(sender); err != nil {
			return nil, err
		}
		return map[string]string{"market": m.Symbol(), "admin": m.Admin().Admin().String()}, nil
	})
}

func (s *Server) pauseMarket(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "pause_market", err)
		return
	}
	s.execute(w, r, "pause_market", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		c := s.node.Protocol().Comptroller()
		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "mint":
			err = c.SetMintPaused(sender, m.Address(), req.Paused)
		case "borrow":
			err = c.SetBorrowPaused(sender, m.Address(), req.Paused)
		default:
			err = fmt.Errorf("%w: action must be mint or borrow", errBadRequest)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"market": m.Symbol(), "action": req.Action, "paused": req.Paused}, nil
	})
}

func (s *Server) pauseProtocol(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "pause_protocol", err)
		return
	}
	s.execute(w, r, "pause_protocol", func(sender crypto.Address) (any, error) {
		c := s.node.Protocol().Comptroller()
		var err error
		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "transfer":
			err = c.SetTransferPaused(sender, req.Paused)
		case "seize":
			err = c.SetSeizePaused(sender, req.Paused)
		default:
			err = fmt.Errorf("%w: action must be transfer or seize", errBadRequest)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": req.Action, "paused": req.Paused}, nil
	})
}

func (s *Server) setBorrowCap(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "set_borrow_cap", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "set_borrow_cap", err)
		return
	}
	s.execute(w, r, "set_borrow_cap", func(sender crypto.Address) (any, error) {
		m, err := s.market(r)
		if err != nil {
			return nil, err
		}
		err = s.node.Protocol().Comptroller().SetMarketBorrowCaps(sender, []crypto.Address{m.Address()}, []*uint256.Int{value})
		if err != nil {
			return nil, err
		}
		return map[string]string{"market": m.Symbol(), "borrowCap": amount(value)}, nil
	})
}

func (s *Server) grantReward(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "grant_reward", err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		s.fail(w, r, "grant_reward", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "grant_reward", err)
		return
	}
	s.execute(w, r, "grant_reward", func(sender crypto.Address) (any, error) {
		if err := s.node.Protocol().Comptroller().GrantReward(sender, recipient, value); err != nil {
			return nil, err
		}
		return map[string]string{"recipient": recipient.String(), "amount": amount(value)}, nil
	})
}

// setPrice and faucet go through the node, which runs its own operation.
func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "set_price", err)
		return
	}
	price, err := parseMantissa("value", req.Value)
	if err != nil {
		s.fail(w, r, "set_price", err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	s.call(w, r, "set_price", func(sender crypto.Address) (any, error) {
		if err := s.node.SetPrice(sender, symbol, price); err != nil {
			return nil, err
		}
		return map[string]string{"market": symbol, "price": mantissa(price)}, nil
	})
}

func (s *Server) faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "faucet", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, "faucet", err)
		return
	}
	value, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "faucet", err)
		return
	}
	s.call(w, r, "faucet", func(crypto.Address) (any, error) {
		if err := s.node.Faucet(req.Asset, to, value); err != nil {
			return nil, err
		}
		return map[string]string{"asset": strings.ToUpper(strings.TrimSpace(req.Asset)), "to": to.String(), "amount": amount(value)}, nil
	})
}

func (s *Server) listPausedModules(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		writeError(w, http.StatusNotImplemented, body("request", "ModulesUnavailable", "module switches not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.List()})
}

// pauseModule toggles an operator switch such as "lending" or
// "lending.borrow". Switches are not part of the checkpoint.
func (s *Server) pauseModule(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		writeError(w, http.StatusNotImplemented, body("request", "ModulesUnavailable", "module switches not configured"))
		return
	}
	var req moduleRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "pause_module", err)
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		s.fail(w, r, "pause_module", fmt.Errorf("%w: key required", errBadRequest))
		return
	}
	s.pauses.Set(key, req.Paused)
	s.logger.Info("module switch changed", "module", key, "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.List()})
}
