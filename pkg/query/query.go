package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var iataRe = regexp.MustCompile(`^[A-Z]{3}$`)

// ConcreteQuery is one fully resolved search unit sent to the remote API.
// An empty ReturnDate means a one-way search.
type ConcreteQuery struct {
	Origin        string
	Destination   string
	DepartureDate string
	ReturnDate    string
}

func (q ConcreteQuery) String() string {
	if q.ReturnDate == "" {
		return fmt.Sprintf("%s->%s on %s", q.Origin, q.Destination, q.DepartureDate)
	}
	return fmt.Sprintf("%s->%s on %s (return %s)", q.Origin, q.Destination, q.DepartureDate, q.ReturnDate)
}

// SearchRequest is the compact one-way form: every destination is paired
// with every date in [DepartureDate, DepartureDate+Timeframe).
type SearchRequest struct {
	Origin        string
	Destinations  []string
	DepartureDate string
	Timeframe     int
}

// NormalizeAirportCode upper-cases and validates a 3-letter IATA code.
func NormalizeAirportCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !iataRe.MatchString(code) {
		return "", fmt.Errorf("invalid airport code %q", code)
	}
	return code, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", strings.TrimSpace(s))
	}
	return t, nil
}

// Expand turns a SearchRequest into its Cartesian product of concrete
// queries: destination-major, dates ascending within each destination.
// Duplicate destinations are dropped, keeping the first occurrence.
func Expand(req SearchRequest) ([]ConcreteQuery, error) {
	origin, err := NormalizeAirportCode(req.Origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}

	if req.Timeframe < 1 {
		return nil, fmt.Errorf("timeframe must be >= 1, got %d", req.Timeframe)
	}

	base, err := parseDate(req.DepartureDate)
	if err != nil {
		return nil, err
	}

	if len(req.Destinations) == 0 {
		return nil, fmt.Errorf("no destinations given")
	}

	seen := make(map[string]bool)
	var destinations []string
	for _, d := range req.Destinations {
		dest, err := NormalizeAirportCode(d)
		if err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
		if seen[dest] {
			continue
		}
		seen[dest] = true
		destinations = append(destinations, dest)
	}

	queries := make([]ConcreteQuery, 0, len(destinations)*req.Timeframe)
	for _, dest := range destinations {
		for i := 0; i < req.Timeframe; i++ {
			queries = append(queries, ConcreteQuery{
				Origin:        origin,
				Destination:   dest,
				DepartureDate: base.AddDate(0, 0, i).Format(DateLayout),
			})
		}
	}

	return queries, nil
}
