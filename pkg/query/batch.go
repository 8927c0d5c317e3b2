package query

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// LineError describes one malformed batch file line. Malformed lines are
// skipped, they never abort the whole batch.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ParseBatch reads CSV route entries (origin,destination,departureDate,returnDate
// with returnDate possibly empty, no header row). Each well-formed line maps
// to exactly one ConcreteQuery, in file order.
func ParseBatch(r io.Reader) ([]ConcreteQuery, []*LineError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var queries []ConcreteQuery
	var lineErrs []*LineError

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				lineErrs = append(lineErrs, &LineError{Line: parseErr.Line, Err: err})
				continue
			}
			return queries, lineErrs, err
		}

		line, _ := reader.FieldPos(0)
		q, err := parseRouteEntry(record)
		if err != nil {
			lineErrs = append(lineErrs, &LineError{Line: line, Err: err})
			continue
		}
		queries = append(queries, q)
	}

	return queries, lineErrs, nil
}

// ParseBatchFile is ParseBatch over a file on disk.
func ParseBatchFile(path string) ([]ConcreteQuery, []*LineError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ParseBatch(f)
}

func parseRouteEntry(record []string) (ConcreteQuery, error) {
	// The return date field may be left off entirely or present but empty.
	if len(record) != 3 && len(record) != 4 {
		return ConcreteQuery{}, fmt.Errorf("expected 4 fields, got %d", len(record))
	}

	origin, err := NormalizeAirportCode(record[0])
	if err != nil {
		return ConcreteQuery{}, fmt.Errorf("origin: %w", err)
	}

	dest, err := NormalizeAirportCode(record[1])
	if err != nil {
		return ConcreteQuery{}, fmt.Errorf("destination: %w", err)
	}

	departure, err := parseDate(record[2])
	if err != nil {
		return ConcreteQuery{}, fmt.Errorf("departure date: %w", err)
	}

	q := ConcreteQuery{
		Origin:        origin,
		Destination:   dest,
		DepartureDate: departure.Format(DateLayout),
	}

	if len(record) == 4 && record[3] != "" {
		ret, err := parseDate(record[3])
		if err != nil {
			return ConcreteQuery{}, fmt.Errorf("return date: %w", err)
		}
		if ret.Before(departure) {
			return ConcreteQuery{}, fmt.Errorf("return date %s is before departure date %s",
				ret.Format(DateLayout), departure.Format(DateLayout))
		}
		q.ReturnDate = ret.Format(DateLayout)
	}

	return q, nil
}
