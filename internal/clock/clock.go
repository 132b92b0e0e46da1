package clock

import "time"

// Clock abstracts the facility wall clock so policy checks (lead times,
// booking horizon) can be tested against a fixed instant.
type Clock interface {
	Now() time.Time
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}
