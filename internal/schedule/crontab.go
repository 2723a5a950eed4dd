package schedule

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// cronTag marks lines owned by this package.
const cronTag = "# convoetl:"

// CronTab registers jobs as lines of a crontab file. Lines it does not own
// are preserved.
type CronTab struct {
	path    string
	command string
}

var _ Scheduler = (*CronTab)(nil)

// NewCronTab manages path; each registered line runs command.
func NewCronTab(path, command string) *CronTab {
	return &CronTab{path: path, command: command}
}

// RegisterPeriodic writes a line running the command every interval, phased
// by start. Cron has no notion of a first run, so start only fixes the
// minute (and hour) the schedule is aligned to.
func (c *CronTab) RegisterPeriodic(name string, every time.Duration, start time.Time) error {
	if err := validate(name, every); err != nil {
		return err
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("job name %q must not contain whitespace", name)
	}
	expr, err := CronExpr(every, start)
	if err != nil {
		return err
	}

	lines, err := c.read()
	if err != nil {
		return err
	}
	lines, _ = without(lines, name)
	lines = append(lines, fmt.Sprintf("%s %s %s%s", expr, c.command, cronTag, name))
	return c.write(lines)
}

// Deregister removes the line registered under name.
func (c *CronTab) Deregister(name string) error {
	lines, err := c.read()
	if err != nil {
		return err
	}
	lines, found := without(lines, name)
	if !found {
		return ErrNotRegistered
	}
	return c.write(lines)
}

// Registered lists the names of owned lines.
func (c *CronTab) Registered() ([]string, error) {
	lines, err := c.read()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range lines {
		if i := strings.LastIndex(line, cronTag); i >= 0 {
			names = append(names, line[i+len(cronTag):])
		}
	}
	sort.Strings(names)
	return names, nil
}

// CronExpr renders an interval as a five-field cron expression.
// Minute intervals must divide an hour and hour intervals a day; day
// intervals step the day of month.
func CronExpr(every time.Duration, start time.Time) (string, error) {
	const day = 24 * time.Hour
	switch {
	case every <= 0:
		return "", fmt.Errorf("interval must be positive, got %s", every)
	case every%day == 0:
		n := int(every / day)
		if n == 1 {
			return fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour()), nil
		}
		return fmt.Sprintf("%d %d */%d * *", start.Minute(), start.Hour(), n), nil
	case every%time.Hour == 0:
		n := int(every / time.Hour)
		if 24%n != 0 {
			return "", fmt.Errorf("interval %s does not divide a day", every)
		}
		return fmt.Sprintf("%d %d-23/%d * * *", start.Minute(), start.Hour()%n, n), nil
	case every%time.Minute == 0:
		n := int(every / time.Minute)
		if 60%n != 0 {
			return "", fmt.Errorf("interval %s does not divide an hour", every)
		}
		return fmt.Sprintf("%d-59/%d * * * *", start.Minute()%n, n), nil
	default:
		return "", fmt.Errorf("interval %s is not a whole number of minutes", every)
	}
}

func (c *CronTab) read() ([]string, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read crontab: %w", err)
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func (c *CronTab) write(lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".crontab-*")
	if err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write crontab: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write crontab: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write crontab: %w", err)
	}
	return nil
}

func without(lines []string, name string) ([]string, bool) {
	tag := cronTag + name
	out := lines[:0:0]
	found := false
	for _, line := range lines {
		if strings.HasSuffix(line, tag) {
			found = true
			continue
		}
		out = append(out, line)
	}
	return out, found
}
