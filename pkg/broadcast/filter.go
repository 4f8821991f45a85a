package broadcast

import "context"

// Filter decides whether an inbound message should be delivered locally. A
// filter chain is run in registration order; the first filter to return
// false (or an error) drops the message.
type Filter func(ctx context.Context, msg Message) (bool, error)

func runFilters(ctx context.Context, filters []Filter, msg Message) (bool, error) {
	for _, f := range filters {
		ok, err := f(ctx, msg)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
