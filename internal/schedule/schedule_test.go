package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5 minutes", 5 * time.Minute},
		{"1 minute", time.Minute},
		{"2 hours", 2 * time.Hour},
		{"1 day", 24 * time.Hour},
		{"3 DAYS", 72 * time.Hour},
		{"10minutes", 10 * time.Minute},
		{"  15 minutes ", 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	for _, in := range []string{"", "5", "minutes", "0 minutes", "5 weeks", "-1 hour", "1.5 hours", "every 5 minutes"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseInterval(in)
			assert.Error(t, err)
		})
	}
}

// TimerScheduler

func TestTimerScheduler_RunsPeriodically(t *testing.T) {
	var runs atomic.Int32
	s := NewTimerScheduler(func(ctx context.Context, name string) {
		assert.Equal(t, "run_etl_job", name)
		runs.Add(1)
	}, nil)
	defer s.Close()

	require.NoError(t, s.RegisterPeriodic("run_etl_job", 10*time.Millisecond, time.Now().Add(-time.Hour)))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"run_etl_job"}, s.Registered())
}

func TestTimerScheduler_WaitsForStart(t *testing.T) {
	var runs atomic.Int32
	s := NewTimerScheduler(func(context.Context, string) { runs.Add(1) }, nil)
	defer s.Close()

	require.NoError(t, s.RegisterPeriodic("later", time.Millisecond, time.Now().Add(time.Hour)))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestTimerScheduler_Deregister(t *testing.T) {
	var runs atomic.Int32
	s := NewTimerScheduler(func(context.Context, string) { runs.Add(1) }, nil)
	defer s.Close()

	require.NoError(t, s.RegisterPeriodic("job", 5*time.Millisecond, time.Now()))
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Deregister("job"))
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "job ran after Deregister returned")
	assert.Empty(t, s.Registered())

	assert.True(t, errors.Is(s.Deregister("job"), ErrNotRegistered))
}

func TestTimerScheduler_RunsDoNotOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	s := NewTimerScheduler(func(context.Context, string) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		active.Add(-1)
	}, nil)

	require.NoError(t, s.RegisterPeriodic("slow", time.Millisecond, time.Now()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestTimerScheduler_ReRegisterReplaces(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	s := NewTimerScheduler(func(_ context.Context, name string) {
		mu.Lock()
		seen[name]++
		mu.Unlock()
	}, nil)
	defer s.Close()

	require.NoError(t, s.RegisterPeriodic("job", time.Hour, time.Now().Add(time.Hour)))
	require.NoError(t, s.RegisterPeriodic("job", 5*time.Millisecond, time.Now()))
	assert.Equal(t, []string{"job"}, s.Registered())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["job"] >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTimerScheduler_CloseCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	s := NewTimerScheduler(func(ctx context.Context, _ string) {
		close(started)
		<-ctx.Done()
	}, nil)

	require.NoError(t, s.RegisterPeriodic("job", time.Hour, time.Now()))
	<-started
	require.NoError(t, s.Close())
	assert.Error(t, s.RegisterPeriodic("job", time.Hour, time.Now()), "register after Close")
}

func TestTimerScheduler_InvalidRegistration(t *testing.T) {
	s := NewTimerScheduler(func(context.Context, string) {}, nil)
	defer s.Close()
	assert.Error(t, s.RegisterPeriodic("", time.Minute, time.Now()))
	assert.Error(t, s.RegisterPeriodic("job", 0, time.Now()))
}

// CronTab

func TestCronExpr(t *testing.T) {
	start := time.Date(2024, 3, 1, 14, 7, 0, 0, time.UTC)
	tests := []struct {
		every time.Duration
		want  string
	}{
		{5 * time.Minute, "2-59/5 * * * *"},
		{15 * time.Minute, "7-59/15 * * * *"},
		{time.Minute, "0-59/1 * * * *"},
		{time.Hour, "7 0-23/1 * * *"},
		{60 * time.Minute, "7 0-23/1 * * *"},
		{6 * time.Hour, "7 2-23/6 * * *"},
		{24 * time.Hour, "7 14 * * *"},
		{72 * time.Hour, "7 14 */3 * *"},
	}
	for _, tt := range tests {
		t.Run(tt.every.String(), func(t *testing.T) {
			got, err := CronExpr(tt.every, start)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCronExpr_Unrepresentable(t *testing.T) {
	for _, every := range []time.Duration{7 * time.Minute, 5 * time.Hour, 90 * time.Second, 0} {
		_, err := CronExpr(every, time.Now())
		assert.Error(t, err, "CronExpr(%s)", every)
	}
}

func TestCronTab_RegisterAndDeregister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crontab")
	require.NoError(t, os.WriteFile(path, []byte("MAILTO=ops@example.com\n0 3 * * * /usr/bin/backup\n"), 0o644))

	c := NewCronTab(path, "/usr/local/bin/convoetl run --config /etc/convoetl.yaml")
	start := time.Date(2024, 1, 1, 0, 3, 0, 0, time.UTC)

	require.NoError(t, c.RegisterPeriodic("run_etl_job", 5*time.Minute, start))
	// Re-registering replaces the line rather than adding another.
	require.NoError(t, c.RegisterPeriodic("run_etl_job", 10*time.Minute, start))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "MAILTO=ops@example.com", lines[0])
	assert.Equal(t, "0 3 * * * /usr/bin/backup", lines[1])
	assert.Equal(t, "3-59/10 * * * * /usr/local/bin/convoetl run --config /etc/convoetl.yaml # convoetl:run_etl_job", lines[2])

	names, err := c.Registered()
	require.NoError(t, err)
	assert.Equal(t, []string{"run_etl_job"}, names)

	require.NoError(t, c.Deregister("run_etl_job"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MAILTO=ops@example.com\n0 3 * * * /usr/bin/backup\n", string(data))

	assert.True(t, errors.Is(c.Deregister("run_etl_job"), ErrNotRegistered))
}

func TestCronTab_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crontab")
	c := NewCronTab(path, "convoetl run")

	require.NoError(t, c.RegisterPeriodic("job", 24*time.Hour, time.Date(2024, 1, 1, 2, 30, 0, 0, time.UTC)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "30 2 * * * convoetl run # convoetl:job\n", string(data))
}

func TestCronTab_RejectsBadNames(t *testing.T) {
	c := NewCronTab(filepath.Join(t.TempDir(), "crontab"), "convoetl run")
	assert.Error(t, c.RegisterPeriodic("two words", time.Hour, time.Now()))
	assert.Error(t, c.RegisterPeriodic("", time.Hour, time.Now()))
	assert.Error(t, c.RegisterPeriodic("job", 7*time.Minute, time.Now()))
}

func TestJobError(t *testing.T) {
	err := &JobError{Op: "deregister", Name: "run_etl_job", Err: ErrNotRegistered}
	assert.Equal(t, "deregister run_etl_job: job not registered", err.Error())
	assert.True(t, errors.Is(err, ErrNotRegistered))
}
