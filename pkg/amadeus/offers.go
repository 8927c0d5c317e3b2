package amadeus

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"farescope/pkg/query"
)

// Offer is one flight offer as returned by the remote service, in source
// order. Departures and Durations hold one entry per itinerary, so a
// round-trip offer shows both legs. Raw is the untouched JSON entry.
type Offer struct {
	Departures []string
	Durations  []string
	PriceTotal string
	Currency   string
	Seats      int64
	Raw        string
}

// Outcome is the result of executing one concrete query. Per-query failures
// ride in Err; only auth failures and cancellation surface as real errors.
type Outcome struct {
	Query  query.ConcreteQuery
	Offers []Offer
	Raw    []byte
	Err    error
}

// Search executes one concrete query against the flight-offers endpoint.
func (c *Client) Search(ctx context.Context, q query.ConcreteQuery) (Outcome, error) {
	out := Outcome{Query: q}

	params := url.Values{
		"originLocationCode":      {q.Origin},
		"destinationLocationCode": {q.Destination},
		"departureDate":           {q.DepartureDate},
		"adults":                  {strconv.Itoa(c.adults)},
		"max":                     {strconv.Itoa(c.maxResults)},
	}
	if q.ReturnDate != "" {
		params.Set("returnDate", q.ReturnDate)
	}
	if c.maxPrice > 0 {
		params.Set("maxPrice", strconv.Itoa(int(c.maxPrice)))
	}

	body, err := c.fetch(ctx, offersEndpoint, params)
	if err != nil {
		if isFatal(err) {
			return out, err
		}
		out.Err = err
		return out, nil
	}

	out.Raw = body
	out.Offers = extractOffers(body, c.maxPrice)
	return out, nil
}

// extractOffers pulls the typed fields out of the loosely structured
// payload, preserving the order the remote API returned. A price cap stops
// collection at the first offer above it, offers come back cheapest-first.
func extractOffers(body []byte, maxPrice float64) []Offer {
	var offers []Offer
	for _, entry := range gjson.GetBytes(body, "data").Array() {
		price := entry.Get("price.grandTotal")
		if maxPrice > 0 && price.Float() > maxPrice {
			break
		}

		var departures, durations []string
		for _, itinerary := range entry.Get("itineraries").Array() {
			segments := itinerary.Get("segments").Array()
			if len(segments) > 0 {
				departures = append(departures, segments[0].Get("departure.at").String())
			}
			durations = append(durations, itinerary.Get("duration").String())
		}

		offers = append(offers, Offer{
			Departures: departures,
			Durations:  durations,
			PriceTotal: price.String(),
			Currency:   entry.Get("price.currency").String(),
			Seats:      entry.Get("numberOfBookableSeats").Int(),
			Raw:        entry.Raw,
		})
	}
	return offers
}
