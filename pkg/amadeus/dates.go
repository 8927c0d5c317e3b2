package amadeus

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"farescope/pkg/query"
)

// CheapestDates queries the flight-dates endpoint for the cheapest offers
// across the given departure dates. With durations it searches round trips
// (one duration per date, in days); without, one-way flights. The endpoint
// cannot mix the two forms in a single request.
func (c *Client) CheapestDates(ctx context.Context, origin, destination string, departureDates, durations []string) (Outcome, error) {
	out := Outcome{Query: query.ConcreteQuery{Origin: origin, Destination: destination}}
	if len(departureDates) == 0 {
		out.Err = fmt.Errorf("no departure dates given")
		return out, nil
	}
	out.Query.DepartureDate = departureDates[0]

	if len(durations) > 0 && len(durations) != len(departureDates) {
		out.Err = fmt.Errorf("got %d durations for %d departure dates", len(durations), len(departureDates))
		return out, nil
	}

	params := url.Values{
		"origin":        {origin},
		"destination":   {destination},
		"departureDate": {strings.Join(departureDates, ",")},
	}
	if len(durations) > 0 {
		params.Set("duration", strings.Join(durations, ","))
	} else {
		params.Set("oneWay", "true")
	}
	if c.maxPrice > 0 {
		params.Set("maxPrice", strconv.Itoa(int(c.maxPrice)))
	}

	body, err := c.fetch(ctx, datesEndpoint, params)
	if err != nil {
		if isFatal(err) {
			return out, err
		}
		out.Err = err
		return out, nil
	}

	out.Raw = body
	out.Offers = extractDateOffers(body)
	return out, nil
}

// extractDateOffers maps flight-dates entries onto Offer. The endpoint
// reports no itinerary details, only a departure date and a total price;
// the currency lives in the payload's meta block.
func extractDateOffers(body []byte) []Offer {
	currency := gjson.GetBytes(body, "meta.currency").String()

	var offers []Offer
	for _, entry := range gjson.GetBytes(body, "data").Array() {
		offers = append(offers, Offer{
			Departures: []string{entry.Get("departureDate").String()},
			PriceTotal: entry.Get("price.total").String(),
			Currency:   currency,
			Raw:        entry.Raw,
		})
	}
	return offers
}
