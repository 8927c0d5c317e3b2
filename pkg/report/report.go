package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"

	"farescope/internal/utils"
	"farescope/pkg/amadeus"
)

const separator = "----------------------------------------------------------------------------------"

// DefaultDir is where raw response payloads land, relative to the working
// directory. The directory is append-only: repeated searches for the same
// route and date get new files instead of clobbering earlier ones.
const DefaultDir = "last_search"

type Reporter struct {
	Dir string
	Out io.Writer
}

func New(dir string) *Reporter {
	if dir == "" {
		dir = DefaultDir
	}
	return &Reporter{Dir: dir, Out: os.Stdout}
}

// Report prints one query's offers in the order the remote API returned
// them and persists the raw payload. It returns the path written, or "" for
// failed queries (there is no payload to keep).
func (r *Reporter) Report(out amadeus.Outcome) (string, error) {
	if out.Err != nil {
		utils.Log.WithFields(logrus.Fields{
			"origin":         out.Query.Origin,
			"destination":    out.Query.Destination,
			"departure_date": out.Query.DepartureDate,
			"return_date":    out.Query.ReturnDate,
		}).Errorf("query failed: %v", out.Err)
		return "", nil
	}

	fmt.Fprintf(r.Out, "From: %s, To: %s\n", out.Query.Origin, out.Query.Destination)
	for _, offer := range out.Offers {
		fmt.Fprintf(r.Out, "Departure: %s, Durations: %s, Price: %s %s, Seats left: %s\n",
			strings.Join(offer.Departures, ", "),
			strings.Join(offer.Durations, ", "),
			offer.PriceTotal, offer.Currency, seatsLabel(offer.Seats))
	}
	fmt.Fprintln(r.Out, separator)
	fmt.Fprintln(r.Out)

	return r.persist(out)
}

func seatsLabel(seats int64) string {
	if seats <= 0 {
		return "N/A"
	}
	return strconv.FormatInt(seats, 10)
}

// persist writes the raw payload under Dir as ORIGIN-DEST-DATE-N.json. The
// N suffix is claimed with an exclusive create, so concurrent workers and
// repeated runs never overwrite each other; the document itself goes
// through a temp file and a rename, so an interrupted run leaves no
// half-written results behind.
func (r *Reporter) persist(out amadeus.Outcome) (string, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", err
	}

	base := fmt.Sprintf("%s-%s-%s", out.Query.Origin, out.Query.Destination, out.Query.DepartureDate)
	path, err := r.claim(base)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(r.Dir, base+".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(pretty.Pretty(out.Raw)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	utils.Log.WithField("file", path).Debug("persisted raw payload")
	return path, nil
}

// claim reserves the next free ORIGIN-DEST-DATE-N.json name atomically.
func (r *Reporter) claim(base string) (string, error) {
	for n := 1; ; n++ {
		path := filepath.Join(r.Dir, fmt.Sprintf("%s-%d.json", base, n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		f.Close()
		return path, nil
	}
}
