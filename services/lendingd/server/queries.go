package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"moneymarket/crypto"
	"moneymarket/services/lendingd/audit"
	lendingstate "moneymarket/state/lending"
)

func (s *Server) getProtocol(w http.ResponseWriter, r *http.Request) {
	var view protocolView
	p := s.node.Protocol()
	_ = p.View(func() error {
		view = protocolSnapshot(p)
		return nil
	})
	view.Halted = p.Halted() != nil
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	p := s.node.Protocol()
	views := []marketView{}
	err := p.View(func() error {
		for _, m := range p.Markets() {
			view, err := marketSnapshot(p, m)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, "list_markets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"height": s.node.Height(), "markets": views})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	p := s.node.Protocol()
	var view marketView
	err := p.View(func() error {
		m, err := p.MarketBySymbol(chi.URLParam(r, "symbol"))
		if err != nil {
			return err
		}
		view, err = marketSnapshot(p, m)
		return err
	})
	if err != nil {
		s.fail(w, r, "get_market", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type historyView struct {
	Height        uint64 `json:"height"`
	Cash          string `json:"cash"`
	TotalBorrows  string `json:"totalBorrows"`
	TotalReserves string `json:"totalReserves"`
	TotalShares   string `json:"totalShares"`
	ExchangeRate  string `json:"exchangeRate"`
	Utilization   string `json:"utilization"`
	BorrowRate    string `json:"borrowRatePerBlock"`
	SupplyRate    string `json:"supplyRatePerBlock"`
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from")
	if err != nil {
		s.fail(w, r, "market_history", err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, "market_history", err)
		return
	}
	market, err := s.resolveMarket(chi.URLParam(r, "symbol"))
	if err != nil {
		s.fail(w, r, "market_history", err)
		return
	}
	records, err := s.node.Store().History(market.String(), from, limit)
	if err != nil {
		s.fail(w, r, "market_history", err)
		return
	}
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "json":
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
		if err := lendingstate.WriteCSV(w, records); err != nil {
			s.logger.Warn("history export failed", "format", format, "error", err)
		}
		return
	case "parquet":
		var buf bytes.Buffer
		if err := lendingstate.WriteParquet(&buf, records); err != nil {
			s.fail(w, r, "market_history", err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", `attachment; filename="history.parquet"`)
		_, _ = w.Write(buf.Bytes())
		return
	default:
		s.fail(w, r, "market_history", fmt.Errorf("%w: unsupported format %q", errBadRequest, format))
		return
	}
	out := make([]historyView, 0, len(records))
	for _, rec := range records {
		out = append(out, historyView{
			Height:        rec.Height,
			Cash:          bigAmount(rec.Cash),
			TotalBorrows:  bigAmount(rec.TotalBorrows),
			TotalReserves: bigAmount(rec.TotalReserves),
			TotalShares:   bigAmount(rec.TotalShares),
			ExchangeRate:  bigMantissa(rec.ExchangeRate),
			Utilization:   bigMantissa(rec.Utilization),
			BorrowRate:    bigMantissa(rec.BorrowRate),
			SupplyRate:    bigMantissa(rec.SupplyRate),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": market.String(), "history": out})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, "get_account", err)
		return
	}
	p := s.node.Protocol()
	var view accountView
	err = p.View(func() error {
		view, err = accountSnapshot(p, account)
		return err
	})
	if err != nil {
		s.fail(w, r, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type eventView struct {
	ID         uint64            `json:"id"`
	Height     uint64            `json:"height"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, body("resource", "AuditDisabled", "audit log not configured"))
		return
	}
	after, err := queryUint(r, "after")
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	market := strings.TrimSpace(r.URL.Query().Get("market"))
	if market != "" {
		addr, err := s.resolveMarket(market)
		if err != nil {
			s.fail(w, r, "list_events", err)
			return
		}
		market = addr.String()
	}
	records, err := s.audit.List(r.Context(), audit.Filter{
		Type:    r.URL.Query().Get("type"),
		Market:  market,
		AfterID: after,
		Limit:   limit,
	})
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Decode()
		if err != nil {
			s.fail(w, r, "list_events", err)
			return
		}
		out = append(out, eventView{ID: rec.ID, Height: rec.Height, Type: rec.Type, Attributes: attrs})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// maxPageSize bounds the limit query parameter of every listing.
const maxPageSize = 1000

// queryLimit reads the limit parameter clamped to maxPageSize. Zero selects
// the listing's default page.
func queryLimit(r *http.Request) (int, error) {
	v, err := queryUint(r, "limit")
	if err != nil {
		return 0, err
	}
	if v > maxPageSize {
		v = maxPageSize
	}
	return int(v), nil
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return v, nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

// resolveMarket accepts a market address or symbol.
func (s *Server) resolveMarket(value string) (crypto.Address, error) {
	if addr, err := crypto.DecodeAddress(value); err == nil {
		return addr, nil
	}
	p := s.node.Protocol()
	var addr crypto.Address
	err := p.View(func() error {
		m, err := p.MarketBySymbol(value)
		if err != nil {
			return err
		}
		addr = m.Address()
		return nil
	})
	return addr, err
}
