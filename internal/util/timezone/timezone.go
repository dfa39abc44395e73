package timezone

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

var currentLocation *time.Location

// Initialize sets the process timezone used for attendance dates. The
// explicit config value wins over the TZ environment variable; the fallback
// is UTC. Call once at startup, before the first attendance is recorded.
func Initialize(configured string) {
	tzName := "UTC"

	if envTZ := os.Getenv("TZ"); envTZ != "" {
		tzName = envTZ
	}
	if configured != "" {
		tzName = configured
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		currentLocation = time.UTC
		return
	}

	log.Infof("Timezone initialized to %s", tzName)
	currentLocation = loc
}

// Now returns the current time in the configured timezone.
func Now() time.Time {
	if currentLocation == nil {
		Initialize("")
	}
	return time.Now().In(currentLocation)
}

// In converts t into the configured timezone. Attendance dates must always
// be derived from a time in this zone, otherwise a student scanning around
// midnight lands on the wrong calendar day.
func In(t time.Time) time.Time {
	if currentLocation == nil {
		Initialize("")
	}
	return t.In(currentLocation)
}

// Format formats t in the configured timezone.
func Format(t time.Time, layout string) string {
	return In(t).Format(layout)
}
