package engine

import "time"

// Alarm names used in wake events and status snapshots.
const (
	AlarmMeasure = "measure"
	AlarmUpload  = "upload"
)

// NextMeasure returns the first measurement trigger strictly after now.
// Triggers sit on minute boundaries aligned to the hour, so an interval
// of 15 fires at :00, :15, :30 and :45 regardless of when the gateway
// booted.
func NextMeasure(now time.Time, intervalMin int) time.Time {
	minute := (now.Minute()/intervalMin + 1) * intervalMin
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return top.Add(time.Duration(minute) * time.Minute)
}

// NextUpload returns the first upload trigger strictly after now.
// Triggers sit at minuteOffset past hours aligned to intervalHours, so
// a 4-hour interval with offset 7 fires at 00:07, 04:07, 08:07 and so
// on. The offset keeps a fleet of gateways from hitting the endpoint in
// the same minute.
func NextUpload(now time.Time, intervalHours, minuteOffset int) time.Time {
	hour := (now.Hour() / intervalHours) * intervalHours
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minuteOffset, 0, 0, now.Location())
	for !t.After(now) {
		t = t.Add(time.Duration(intervalHours) * time.Hour)
	}
	return t
}

// IsTimeSyncSlot reports whether an upload trigger at t should run the
// daily time sync first.
func IsTimeSyncSlot(t time.Time, syncHour int) bool {
	return t.Hour() == syncHour
}
