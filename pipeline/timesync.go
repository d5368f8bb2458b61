package pipeline

import (
	"errors"
	"time"
)

// ErrClockRejected reports a time-server response whose timestamp failed
// validation. The real-time clock is left untouched.
var ErrClockRejected = errors.New("implausible server timestamp")

// Server timestamps are two-digit-year "yy/mm/dd,hh:mm:ss". Years
// outside 2016–2050 are implausible for this fleet and rejected.
const (
	stampLen = 17
	yearMin  = 16
	yearMax  = 50
)

// ParseServerTime scans a raw response window for a valid timestamp and
// returns it, or ErrClockRejected when none passes validation.
func ParseServerTime(raw string) (time.Time, error) {
	for i := 0; i+stampLen <= len(raw); i++ {
		if t, ok := tryStamp(raw[i : i+stampLen]); ok {
			return t, nil
		}
	}
	return time.Time{}, ErrClockRejected
}

// tryStamp validates one candidate "yy/mm/dd,hh:mm:ss" window.
func tryStamp(s string) (time.Time, bool) {
	for i, c := range []byte(s) {
		switch i {
		case 2, 5:
			if c != '/' {
				return time.Time{}, false
			}
		case 8:
			if c != ',' {
				return time.Time{}, false
			}
		case 11, 14:
			if c != ':' {
				return time.Time{}, false
			}
		default:
			if c < '0' || c > '9' {
				return time.Time{}, false
			}
		}
	}
	year := digits2(s[0:2])
	month := digits2(s[3:5])
	day := digits2(s[6:8])
	hour := digits2(s[9:11])
	min := digits2(s[12:14])
	sec := digits2(s[15:17])

	if year < yearMin || year > yearMax {
		return time.Time{}, false
	}
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	if hour > 23 || min > 59 || sec > 59 {
		return time.Time{}, false
	}
	return time.Date(2000+year, time.Month(month), day, hour, min, sec, 0, time.UTC), true
}

func digits2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
