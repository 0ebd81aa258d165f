package forecast

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/br"
)

// Holiday is one dated public holiday.
type Holiday struct {
	Name string
	Date time.Time
}

// HolidayCalendar lists the holidays observed in a year.
type HolidayCalendar func(year int) []Holiday

// BrazilHolidays returns Brazil's national public holidays for year.
func BrazilHolidays(year int) []Holiday {
	return fromCalendar(br.Holidays, year)
}

// fromCalendar keeps the public holidays in effect for year, dated at UTC
// midnight.
func fromCalendar(hs []*cal.Holiday, year int) []Holiday {
	out := make([]Holiday, 0, len(hs))
	for _, h := range hs {
		if h.Type != cal.ObservancePublic {
			continue
		}
		actual, _ := h.Calc(year)
		if actual.IsZero() {
			continue
		}
		out = append(out, Holiday{
			Name: h.Name,
			Date: time.Date(actual.Year(), actual.Month(), actual.Day(), 0, 0, 0, 0, time.UTC),
		})
	}
	return out
}
