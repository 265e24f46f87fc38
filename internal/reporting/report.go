// Package reporting turns the position ledger into realized profit summaries.
package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"ratchetBot/internal/domain"
)

// ClosedTrade is one BUY..SELL round trip reconstructed from the ledger.
type ClosedTrade struct {
	Symbol    string                `yaml:"symbol"`
	Trend     domain.TrendDirection `yaml:"-"`
	BuyPrice  float64               `yaml:"buy_price"`
	SellPrice float64               `yaml:"sell_price"`
	Quantity  float64               `yaml:"quantity"`
	Profit    float64               `yaml:"profit"`
	ProfitPct float64               `yaml:"profit_pct"`
	OpenedAt  time.Time             `yaml:"opened_at"`
	ClosedAt  time.Time             `yaml:"closed_at"`
}

// PeriodSummary aggregates closed trades over one calendar period.
type PeriodSummary struct {
	Period   string  `yaml:"period"`
	Trades   int     `yaml:"trades"`
	Profit   float64 `yaml:"profit"`
	Quantity float64 `yaml:"quantity"`
}

// TokenSummary aggregates closed trades of one symbol.
type TokenSummary struct {
	Symbol string  `yaml:"symbol"`
	Trades int     `yaml:"trades"`
	Profit float64 `yaml:"profit"`
}

// Report is the full realized-profit view of a ledger.
type Report struct {
	Trades        []ClosedTrade   `yaml:"trades"`
	TotalProfit   float64         `yaml:"total_profit"`
	Daily         []PeriodSummary `yaml:"daily"`
	Weekly        []PeriodSummary `yaml:"weekly"`
	Monthly       []PeriodSummary `yaml:"monthly"`
	Tokens        []TokenSummary  `yaml:"tokens"`
	Best          *TokenSummary   `yaml:"best,omitempty"`
	Worst         *TokenSummary   `yaml:"worst,omitempty"`
	WinningTokens int             `yaml:"winning_tokens"`
	LosingTokens  int             `yaml:"losing_tokens"`
}

type openLeg struct {
	buy      *domain.LedgerEntry
	lastStop *domain.LedgerEntry
}

// RealizedTrades pairs each BUY with the following SELL of the same symbol. The exit price is
// the SELL price; when the SELL carries none, the last STOP_SET after the BUY is used. A SELL
// without a preceding BUY, or without any usable price, is ignored. Entries are processed in
// timestamp order.
func RealizedTrades(entries []*domain.LedgerEntry) []ClosedTrade {
	sorted := append([]*domain.LedgerEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	open := make(map[string]*openLeg)
	var out []ClosedTrade
	for _, e := range sorted {
		switch e.Action {
		case domain.ActionBuy:
			open[e.Symbol] = &openLeg{buy: e}
		case domain.ActionStopSet:
			if leg, ok := open[e.Symbol]; ok && !e.Timestamp.Before(leg.buy.Timestamp) {
				leg.lastStop = e
			}
		case domain.ActionSell:
			leg, ok := open[e.Symbol]
			if !ok {
				continue
			}
			delete(open, e.Symbol)
			if t, ok := closeLeg(leg, e); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func closeLeg(leg *openLeg, sell *domain.LedgerEntry) (ClosedTrade, bool) {
	price := sell.Price
	if price <= 0 && leg.lastStop != nil {
		price = leg.lastStop.StopLossPrice
	}
	buy := leg.buy
	if price <= 0 || buy.Price <= 0 {
		return ClosedTrade{}, false
	}
	trend := trendOf(buy)
	qty := buy.Quantity
	profit := (price - buy.Price) * qty
	pct := (price/buy.Price - 1) * 100
	if trend == domain.TrendNegative {
		profit, pct = -profit, -pct
	}
	return ClosedTrade{
		Symbol:    sell.Symbol,
		Trend:     trend,
		BuyPrice:  buy.Price,
		SellPrice: price,
		Quantity:  qty,
		Profit:    profit,
		ProfitPct: pct,
		OpenedAt:  buy.Timestamp,
		ClosedAt:  sell.Timestamp,
	}, true
}

// trendOf reads the direction recorded in the entry reason ("signal/Negative").
func trendOf(buy *domain.LedgerEntry) domain.TrendDirection {
	if i := strings.LastIndexByte(buy.Reason, '/'); i >= 0 {
		if t, ok := domain.ParseTrendDirection(buy.Reason[i+1:]); ok {
			return t
		}
	}
	return domain.TrendPositive
}

// DayKey formats the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// WeekKey formats the ISO week of t, e.g. "2025-W07".
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthKey formats the UTC calendar month of t.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Summarize groups trades by the period their close falls into, ordered by period.
func Summarize(trades []ClosedTrade, key func(time.Time) string) []PeriodSummary {
	byPeriod := make(map[string]*PeriodSummary)
	for _, t := range trades {
		k := key(t.ClosedAt)
		s, ok := byPeriod[k]
		if !ok {
			s = &PeriodSummary{Period: k}
			byPeriod[k] = s
		}
		s.Trades++
		s.Profit += t.Profit
		s.Quantity += t.Quantity
	}
	out := make([]PeriodSummary, 0, len(byPeriod))
	for _, s := range byPeriod {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// ByToken groups trades per symbol, most profitable first.
func ByToken(trades []ClosedTrade) []TokenSummary {
	bySymbol := make(map[string]*TokenSummary)
	for _, t := range trades {
		s, ok := bySymbol[t.Symbol]
		if !ok {
			s = &TokenSummary{Symbol: t.Symbol}
			bySymbol[t.Symbol] = s
		}
		s.Trades++
		s.Profit += t.Profit
	}
	out := make([]TokenSummary, 0, len(bySymbol))
	for _, s := range bySymbol {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Profit != out[j].Profit {
			return out[i].Profit > out[j].Profit
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Build reconstructs closed trades from the ledger and summarizes them.
func Build(entries []*domain.LedgerEntry) *Report {
	trades := RealizedTrades(entries)
	r := &Report{
		Trades:  trades,
		Daily:   Summarize(trades, DayKey),
		Weekly:  Summarize(trades, WeekKey),
		Monthly: Summarize(trades, MonthKey),
		Tokens:  ByToken(trades),
	}
	for _, t := range trades {
		r.TotalProfit += t.Profit
	}
	for _, tok := range r.Tokens {
		// A break-even token counts as a win.
		if tok.Profit >= 0 {
			r.WinningTokens++
		} else {
			r.LosingTokens++
		}
	}
	if n := len(r.Tokens); n > 0 {
		best, worst := r.Tokens[0], r.Tokens[n-1]
		r.Best, r.Worst = &best, &worst
	}
	return r
}

// ForSymbol returns the closed trades of one symbol.
func (r *Report) ForSymbol(symbol string) []ClosedTrade {
	var out []ClosedTrade
	for _, t := range r.Trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// WinRatio is the share of tokens with a non-negative total, in percent.
func (r *Report) WinRatio() float64 {
	total := r.WinningTokens + r.LosingTokens
	if total == 0 {
		return 0
	}
	return float64(r.WinningTokens) / float64(total) * 100
}

// WriteYAML renders the report as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// WriteTable renders the report as aligned text tables.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Realized trades:\t%d\n", len(r.Trades))
	fmt.Fprintf(tw, "Total profit:\t%.2f\n", r.TotalProfit)

	for _, section := range []struct {
		title string
		rows  []PeriodSummary
	}{
		{"Daily", r.Daily},
		{"Weekly", r.Weekly},
		{"Monthly", r.Monthly},
	} {
		fmt.Fprintf(tw, "\n%s\tTRADES\tPROFIT\n", strings.ToUpper(section.title))
		for _, s := range section.rows {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\n", s.Period, s.Trades, s.Profit)
		}
	}

	fmt.Fprintf(tw, "\nTOKEN\tTRADES\tPROFIT\n")
	for _, s := range r.Tokens {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\n", s.Symbol, s.Trades, s.Profit)
	}
	if r.Best != nil {
		fmt.Fprintf(tw, "\nMost profitable token:\t%s\t%.2f\n", r.Best.Symbol, r.Best.Profit)
		fmt.Fprintf(tw, "Least profitable token:\t%s\t%.2f\n", r.Worst.Symbol, r.Worst.Profit)
	}
	fmt.Fprintf(tw, "Win/loss:\t%.1f%% win\t%d tokens\n", r.WinRatio(), r.WinningTokens+r.LosingTokens)
	return tw.Flush()
}

// WriteTrades lists closed trades one per line.
func WriteTrades(w io.Writer, trades []ClosedTrade) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "OPENED\tCLOSED\tSYMBOL\tBUY\tSELL\tQTY\tPROFIT\tPCT\n")
	total := 0.0
	for _, t := range trades {
		total += t.Profit
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.5f\t%.5f\t%.4f\t%.2f\t%+.2f%%\n",
			t.OpenedAt.UTC().Format("2006-01-02 15:04"),
			t.ClosedAt.UTC().Format("2006-01-02 15:04"),
			t.Symbol, t.BuyPrice, t.SellPrice, t.Quantity, t.Profit, t.ProfitPct)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t\t\t%.2f\t\n", total)
	return tw.Flush()
}
