// Package intent turns short analytics questions into a closed set of query intents.
package intent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"skumap/internal/model"
)

// DefaultTopLimit is used when a top products query names no count.
const DefaultTopLimit = 10

// ErrUnknownIntent is returned when no intent pattern matches.
var ErrUnknownIntent = errors.New("unable to determine query type")

// Intent is one of SalesTrend, TopProducts or CategoryPerformance.
type Intent interface {
	Kind() string
	isIntent()
}

// Period is a relative window such as "last 30 days".
type Period struct {
	N    int
	Unit string // days, weeks or months
}

// Start returns the window start relative to now.
func (p Period) Start(now time.Time) time.Time {
	switch p.Unit {
	case "weeks":
		return now.AddDate(0, 0, -7*p.N)
	case "months":
		return now.AddDate(0, -p.N, 0)
	default:
		return now.AddDate(0, 0, -p.N)
	}
}

// Range is an explicit date window, inclusive on both ends.
type Range struct {
	Start, End time.Time
}

// Filter bounds an intent to a period or an explicit range. Both may be nil.
type Filter struct {
	Period  *Period
	Between *Range
}

// SalesTrend asks for revenue per day.
type SalesTrend struct{ Filter }

// TopProducts asks for the best selling products by revenue.
type TopProducts struct {
	Filter
	Limit int
}

// CategoryPerformance asks for revenue per product category.
type CategoryPerformance struct{ Filter }

func (SalesTrend) Kind() string          { return "sales_trend" }
func (TopProducts) Kind() string         { return "top_products" }
func (CategoryPerformance) Kind() string { return "category_performance" }

func (SalesTrend) isIntent()          {}
func (TopProducts) isIntent()         {}
func (CategoryPerformance) isIntent() {}

var (
	reSalesTrend    = regexp.MustCompile(`(?i)(show|display|get)\s+(sales|revenue)\s+trend`)
	reTopProducts   = regexp.MustCompile(`(?i)(show|list|what\s+are)\s+(the\s+)?top\s+(\d+\s+)?products`)
	reTopLimit      = regexp.MustCompile(`(?i)top\s+(\d+)`)
	reCategory      = regexp.MustCompile(`(?i)(show|display|get)\s+category\s+performance`)
	reTimePeriod    = regexp.MustCompile(`(?i)(last|past)\s+(\d+)\s+(days?|weeks?|months?)`)
	reSpecificDates = regexp.MustCompile(`(?i)between\s+([\w\s,/-]+?)\s+and\s+([\w\s,/-]+)`)
)

// Parse classifies text. Sales trend wins over top products, which wins over
// category performance, when several patterns match.
func Parse(text string) (Intent, error) {
	f, err := parseFilter(text)
	if err != nil {
		return nil, err
	}
	switch {
	case reSalesTrend.MatchString(text):
		return SalesTrend{Filter: f}, nil
	case reTopProducts.MatchString(text):
		limit := DefaultTopLimit
		if m := reTopLimit.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				limit = n
			}
		}
		return TopProducts{Filter: f, Limit: limit}, nil
	case reCategory.MatchString(text):
		return CategoryPerformance{Filter: f}, nil
	}
	return nil, ErrUnknownIntent
}

func parseFilter(text string) (Filter, error) {
	var f Filter
	if m := reTimePeriod.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[2])
		unit := strings.ToLower(m[3])
		if !strings.HasSuffix(unit, "s") {
			unit += "s"
		}
		f.Period = &Period{N: n, Unit: unit}
	}
	if m := reSpecificDates.FindStringSubmatch(text); m != nil {
		start, ok := model.ParseDate(strings.TrimSpace(m[1]))
		if !ok {
			return f, fmt.Errorf("invalid start date %q", strings.TrimSpace(m[1]))
		}
		end, ok := model.ParseDate(strings.TrimSpace(m[2]))
		if !ok {
			return f, fmt.Errorf("invalid end date %q", strings.TrimSpace(m[2]))
		}
		if end.Before(start) {
			start, end = end, start
		}
		f.Between = &Range{Start: start, End: end}
	}
	return f, nil
}

// Contains reports whether t falls inside the filter window evaluated at now.
func (f Filter) Contains(t, now time.Time) bool {
	if f.Period != nil && t.Before(f.Period.Start(now)) {
		return false
	}
	if f.Between != nil {
		if t.Before(f.Between.Start) {
			return false
		}
		// End is a calendar day when it carries no clock part.
		end := f.Between.End
		if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 {
			end = end.AddDate(0, 0, 1)
			return t.Before(end)
		}
		return !t.After(end)
	}
	return true
}
