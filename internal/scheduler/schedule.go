package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard five-field expressions and descriptors such as
// "@every 5m" or "@hourly".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newCron() *cron.Cron {
	return cron.New(cron.WithParser(parser))
}

// ValidateSchedule checks that schedule is a valid cron expression.
func ValidateSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// NextRunTime returns when schedule next fires after now.
func NextRunTime(schedule string, now time.Time) (time.Time, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}
