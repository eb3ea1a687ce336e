package analytics

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// Section is a flat table view of part of a payload, used by the tabular
// renderers (csv, xlsx). Cells are already formatted.
type Section struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Sections flattens every populated part of p, summary first.
func (p Payload) Sections() []Section {
	out := []Section{summarySection(p)}
	if f := p.Financial; f != nil {
		out = append(out, financialSections(f)...)
	}
	if pf := p.Portfolio; pf != nil {
		out = append(out, portfolioSection(pf))
	}
	if t := p.Tenant; t != nil {
		out = append(out, histogramSection("Tenants by status", "status", t.ByStatus))
	}
	if m := p.Maintenance; m != nil {
		out = append(out,
			histogramSection("Maintenance by category", "category", m.ByCategory),
			histogramSection("Maintenance by priority", "priority", m.ByPriority),
		)
	}
	return out
}

func summarySection(p Payload) Section {
	s := Section{Name: "Summary", Header: []string{"metric", "value"}}
	s.Rows = append(s.Rows,
		[]string{"reportType", string(p.Type)},
		[]string{"start", p.Range.Start.Format("2006-01-02")},
		[]string{"end", p.Range.End.Format("2006-01-02")},
		[]string{"recordCount", strconv.Itoa(p.RecordCount)},
	)
	summary := p.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Rows = append(s.Rows, []string{k, summary[k]})
	}
	return s
}

func financialSections(f *FinancialPayload) []Section {
	monthly := Section{Name: "Monthly breakdown", Header: []string{"month", "income", "expenses", "net"}}
	for _, b := range f.MonthlyBreakdown {
		monthly.Rows = append(monthly.Rows, []string{b.Month, money(b.Income), money(b.Expenses), money(b.Net)})
	}
	categories := Section{Name: "By category", Header: []string{"category", "amount", "count"}}
	for _, c := range f.ByCategory {
		categories.Rows = append(categories.Rows, []string{c.Category, money(c.Amount), strconv.Itoa(c.Count)})
	}
	return []Section{monthly, categories}
}

func portfolioSection(pf *PortfolioPayload) Section {
	s := Section{
		Name:   "Properties",
		Header: []string{"property", "name", "units", "occupied", "occupancyRate", "averageRent", "revenue", "expenses", "netIncome", "roi"},
	}
	for _, m := range pf.Properties {
		s.Rows = append(s.Rows, []string{
			string(m.PropertyID), m.Name,
			strconv.Itoa(m.Units), strconv.Itoa(m.Occupied),
			money(m.OccupancyRate), money(m.AverageRent),
			money(m.Revenue), money(m.Expenses), money(m.NetIncome), money(m.ROI),
		})
	}
	return s
}

func histogramSection(name, label string, h map[string]int) Section {
	s := Section{Name: name, Header: []string{label, "count"}}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Rows = append(s.Rows, []string{k, strconv.Itoa(h[k])})
	}
	return s
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }
