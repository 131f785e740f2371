package staff

import (
	"fmt"
	"time"
)

// ShiftKey names one of the three daily shifts.
type ShiftKey string

const (
	ShiftMorning   ShiftKey = "pagi"  // 07:00-14:00
	ShiftAfternoon ShiftKey = "siang" // 14:00-21:00
	ShiftNight     ShiftKey = "malam" // 21:00-07:00 next day
)

const dateLayout = "2006-01-02"

func ParseShiftKey(v string) (ShiftKey, error) {
	switch k := ShiftKey(v); k {
	case ShiftMorning, ShiftAfternoon, ShiftNight:
		return k, nil
	default:
		return "", fmt.Errorf("unknown shift %q", v)
	}
}

// ParseDate accepts a roster date in YYYY-MM-DD form.
func ParseDate(v string) (string, error) {
	d, err := time.Parse(dateLayout, v)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", v)
	}
	return d.Format(dateLayout), nil
}

// ResolveActiveShift returns the roster date and shift covering now in loc.
// Between midnight and 07:00 the night shift of the previous day is still on.
func ResolveActiveShift(now time.Time, loc *time.Location) (string, ShiftKey) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch h := local.Hour(); {
	case h < 7:
		return local.AddDate(0, 0, -1).Format(dateLayout), ShiftNight
	case h < 14:
		return local.Format(dateLayout), ShiftMorning
	case h < 21:
		return local.Format(dateLayout), ShiftAfternoon
	default:
		return local.Format(dateLayout), ShiftNight
	}
}
