// Package schedule triggers ingestion periodically.
//
// Scheduler is the minimal contract for a periodic trigger. TimerScheduler
// runs jobs in-process; CronTab registers them in a crontab file for an
// external cron daemon.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotRegistered is returned when deregistering an unknown name.
var ErrNotRegistered = errors.New("job not registered")

// JobError reports a failed registration change for a named job.
type JobError struct {
	Op   string // "register" or "deregister"
	Name string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Scheduler registers named periodic triggers. Registering an existing name
// replaces it.
type Scheduler interface {
	RegisterPeriodic(name string, every time.Duration, start time.Time) error
	Deregister(name string) error
}

var intervalPattern = regexp.MustCompile(`(?i)^(\d+)\s*(minute|hour|day)s?$`)

// ParseInterval parses "5 minutes", "2 hours", "1 day" and the like.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q: want a form like '5 minutes', '2 hours' or '1 day'", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: count must be a positive integer", s)
	}

	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

func validate(name string, every time.Duration) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("job name must not be empty")
	}
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %s", every)
	}
	return nil
}
