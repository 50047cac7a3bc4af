package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job" }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestRegisterValidation(t *testing.T) {
	s := New(DefaultConfig())
	job := funcJob{name: "noop", run: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, Schedule{Every: time.Minute}), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, Schedule{}), ErrInvalidSchedule)
	require.NoError(t, s.Register(job, Schedule{Every: time.Hour}))
	assert.ErrorIs(t, s.Register(job, Schedule{Every: time.Hour}), ErrJobAlreadyExists)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "every 1h0m0s", jobs[0].Schedule)

	require.NoError(t, s.Unregister("noop"))
	assert.ErrorIs(t, s.Unregister("noop"), ErrJobNotFound)
}

func TestRunNowRecordsHistory(t *testing.T) {
	s := New(Config{MaxHistorySize: 2})
	boom := errors.New("boom")
	calls := 0
	require.NoError(t, s.Register(funcJob{name: "flaky", run: func(context.Context) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}}, Schedule{Cron: "0 3 * * *"}))

	var hooked []bool
	s.OnJobComplete(func(r JobResult) { hooked = append(hooked, r.Success) })

	for i := 0; i < 3; i++ {
		res, err := s.RunNow(context.Background(), "flaky")
		require.NotNil(t, res)
		assert.True(t, res.Manual)
		if i == 1 {
			assert.ErrorIs(t, err, boom)
		} else {
			assert.NoError(t, err)
		}
	}

	assert.Equal(t, []bool{true, false, true}, hooked)
	history := s.GetHistory(0)
	require.Len(t, history, 2, "history is bounded")
	assert.False(t, history[0].Success)

	info := s.ListJobs()[0]
	assert.EqualValues(t, 3, info.RunCount)
	assert.EqualValues(t, 1, info.FailCount)
	assert.Equal(t, "cron 0 3 * * *", info.Schedule)

	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStartStop(t *testing.T) {
	s := New(Config{WaitForSchedule: true})
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Register(funcJob{name: "tick", run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}, Schedule{Every: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(ctx), ErrSchedulerAlreadyRunning)

	select {
	case <-ran:
		t.Fatal("job ran before its first tick")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

// ─────────────────────────────────────────────────────────────────────────────
// Sweep job
// ─────────────────────────────────────────────────────────────────────────────

type stubValidator struct {
	rep *validation.SweepReport
	err error
	ctx context.Context
}

func (v *stubValidator) AllPaths(ctx context.Context) (*validation.SweepReport, error) {
	v.ctx = ctx
	return v.rep, v.err
}

type memReports struct {
	mu     sync.Mutex
	latest *validation.SweepReport
	err    error
}

func (m *memReports) SaveLatest(_ context.Context, rep *validation.SweepReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.latest = rep
	return nil
}

func (m *memReports) Latest(context.Context) (*validation.SweepReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil, validation.ErrNoReport
	}
	return m.latest, nil
}

type capture struct{ events []shared.Event }

func (c *capture) Publish(e shared.Event) error {
	c.events = append(c.events, e)
	return nil
}

func failingReport() *validation.SweepReport {
	return &validation.SweepReport{
		OK:        false,
		CheckedAt: time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC),
		Courses: []validation.CourseReport{
			{CourseID: "course-1", OK: true},
			{CourseID: "course-2", OK: false, LessonCount: 4, ValidLessons: 3},
		},
		MissingCourses: []string{"course-9"},
	}
}

func TestSweepJobStoresAndAnnounces(t *testing.T) {
	v := &stubValidator{rep: failingReport()}
	reports := &memReports{}
	pub := &capture{}
	job := NewSweepJob(v, reports, pub, nil).WithTimeout(time.Minute)

	assert.Nil(t, job.LastReport())
	require.NoError(t, job.Run(context.Background()), "a failing report is not a job failure")

	_, hasDeadline := v.ctx.Deadline()
	assert.True(t, hasDeadline)
	latest, err := reports.Latest(context.Background())
	require.NoError(t, err)
	assert.Same(t, v.rep, latest)
	assert.Same(t, v.rep, job.LastReport())

	require.Len(t, pub.events, 1)
	ev, ok := pub.events[0].(shared.SweepCompletedEvent)
	require.True(t, ok)
	assert.False(t, ev.OK)
	assert.Equal(t, 2, ev.Courses)
	assert.Equal(t, 1, ev.FailedCourses)
}

func TestSweepJobToleratesReportStoreFailure(t *testing.T) {
	v := &stubValidator{rep: &validation.SweepReport{OK: true}}
	job := NewSweepJob(v, &memReports{err: errors.New("redis down")}, nil, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.NotNil(t, job.LastReport())
}

func TestSweepJobPropagatesValidatorError(t *testing.T) {
	boom := errors.New("db gone")
	job := NewSweepJob(&stubValidator{err: boom}, nil, nil, nil)

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, job.LastReport())

	s := New(DefaultConfig())
	require.NoError(t, s.Register(job, Schedule{Every: time.Hour}))
	res, err := s.RunNow(context.Background(), SweepJobName)
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
}
