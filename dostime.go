package fat

import (
	"time"
)

// dosEpoch is the earliest representable DOS timestamp. Zeroed or partially
// zeroed timestamp fields decode to it.
var dosEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// DosTimestamp converts the packed 16-bit DOS date and time fields of a
// directory entry to a time.Time. The tenths field carries 0-199 additional
// centiseconds (the seconds field only has two-second granularity).
func DosTimestamp(date, timeOfDay uint16, tenths uint8) time.Time {
	day := int(date & 0x1f)
	month := int(date&0x1e0) >> 5
	year := 1980 + int(date&0xfe00)>>9

	if day == 0 || month == 0 {
		return dosEpoch
	}

	seconds := int(timeOfDay&0x1f) * 2
	minutes := int(timeOfDay&0x7e0) >> 5
	hours := int(timeOfDay&0xf800) >> 11

	seconds += int(tenths) / 100
	nanoseconds := (int(tenths) % 100) * 10 * int(time.Millisecond)

	return time.Date(year, time.Month(month), day, hours, minutes, seconds, nanoseconds, time.UTC)
}
