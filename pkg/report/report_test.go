package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"farescope/pkg/amadeus"
	"farescope/pkg/query"
)

var testQuery = query.ConcreteQuery{Origin: "MAD", Destination: "BCN", DepartureDate: "2024-12-10"}

func testOutcome(raw string) amadeus.Outcome {
	return amadeus.Outcome{
		Query: testQuery,
		Offers: []amadeus.Offer{
			{
				Departures: []string{"2024-12-10T07:30:00"},
				Durations:  []string{"PT2H10M"},
				PriceTotal: "54.20",
				Currency:   "EUR",
				Seats:      4,
			},
			{
				Departures: []string{"2024-12-10T11:05:00", "2024-12-21T18:00:00"},
				Durations:  []string{"PT6H45M", "PT2H05M"},
				PriceTotal: "88.00",
				Currency:   "EUR",
				Seats:      9,
			},
		},
		Raw: []byte(raw),
	}
}

func TestReportPrintsOffersInOrder(t *testing.T) {
	var buf bytes.Buffer
	r := &Reporter{Dir: t.TempDir(), Out: &buf}

	if _, err := r.Report(testOutcome(`{"data": []}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[0] != "From: MAD, To: BCN" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != "Departure: 2024-12-10T07:30:00, Durations: PT2H10M, Price: 54.20 EUR, Seats left: 4" {
		t.Fatalf("unexpected first offer line: %q", lines[1])
	}
	if lines[2] != "Departure: 2024-12-10T11:05:00, 2024-12-21T18:00:00, Durations: PT6H45M, PT2H05M, Price: 88.00 EUR, Seats left: 9" {
		t.Fatalf("unexpected second offer line: %q", lines[2])
	}
}

func TestPersistRoundTripIsLossless(t *testing.T) {
	raw := `{"meta":{"count":1},"data":[{"id":"1","price":{"currency":"EUR","grandTotal":"54.20"},"extra":{"deeply":["nested",1,true,null]}}]}`

	var buf bytes.Buffer
	r := &Reporter{Dir: t.TempDir(), Out: &buf}

	path, err := r.Report(testOutcome(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted file: %v", err)
	}

	var got, want any
	if err := json.Unmarshal(written, &got); err != nil {
		t.Fatalf("persisted file is not valid JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(raw), &want); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("persisted document differs from the response payload.\nwant: %#v\ngot:  %#v", want, got)
	}
}

func TestPersistNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	r := &Reporter{Dir: dir, Out: &buf}

	first, err := r.Report(testOutcome(`{"run": 1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Report(testOutcome(`{"run": 2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first == second {
		t.Fatalf("both writes landed on %s", first)
	}
	if filepath.Base(first) != "MAD-BCN-2024-12-10-1.json" || filepath.Base(second) != "MAD-BCN-2024-12-10-2.json" {
		t.Fatalf("unexpected file names: %s, %s", first, second)
	}

	kept, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("reading first file: %v", err)
	}
	if !strings.Contains(string(kept), `"run": 1`) {
		t.Fatalf("first write was clobbered: %s", kept)
	}
}

func TestReportFailedQueryWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	var buf bytes.Buffer
	r := &Reporter{Dir: dir, Out: &buf}

	out := amadeus.Outcome{Query: testQuery, Err: errors.New("remote error: HTTP 502")}
	path, err := r.Report(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Fatalf("failed query must not produce a file, got %s", path)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("output directory should not even exist for a failed query")
	}
	if buf.Len() != 0 {
		t.Fatalf("failure reporting belongs on the log, not stdout: %q", buf.String())
	}
}
