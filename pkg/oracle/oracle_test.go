package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTable reports the target alive between appearAt and dieAt.
type fakeTable struct {
	mu        sync.Mutex
	clock     *fakeClock
	launched  time.Time
	appearAt  time.Duration
	dieAt     time.Duration
	never     bool
	lookupErr error
	lookups   int
	kills     []string
	named     []string
}

func (t *fakeTable) Lookup(_ context.Context, _ string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups++
	if t.lookupErr != nil {
		return "", false, t.lookupErr
	}
	if t.never {
		return "", false, nil
	}
	elapsed := t.clock.Now().Sub(t.launched)
	if elapsed >= t.appearAt && (t.dieAt == 0 || elapsed < t.dieAt) {
		return "4242", true, nil
	}
	return "", false, nil
}

func (t *fakeTable) Kill(_ context.Context, pid string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kills = append(t.kills, pid)
	return nil
}

func (t *fakeTable) KillByName(_ context.Context, image string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.named = append(t.named, image)
	return nil
}

type fakeLauncher struct {
	table  *fakeTable
	err    error
	starts int
}

func (l *fakeLauncher) Start(_ context.Context, _ string, _ []string, _ string) (*Handle, error) {
	l.starts++
	if l.err != nil {
		return nil, l.err
	}
	l.table.launched = l.table.clock.Now()
	return NewHandle(4242), nil
}

func newTestOracle(t *testing.T, table *fakeTable, opts ...Option) (*Oracle, *fakeLauncher) {
	t.Helper()
	launcher := &fakeLauncher{table: table}
	all := append([]Option{WithLauncher(launcher), WithClock(table.clock)}, opts...)
	o := New(Options{
		Executable:         "/games/Game.exe",
		CrashReporterImage: DefaultCrashReporter,
		Timeout:            5 * time.Second,
		AfterCloseDelay:    time.Second,
	}, table, all...)
	return o, launcher
}

func TestNew_Defaults(t *testing.T) {
	o := New(Options{Executable: "/opt/game/bin/game"}, &fakeTable{clock: newFakeClock()})
	assert.Equal(t, "game", o.Image())
	assert.Equal(t, DefaultTimeout, o.opts.Timeout)
	assert.Equal(t, DefaultStartupGrace, o.opts.StartupGrace)
}

func TestOracle_Trial(t *testing.T) {
	tests := []struct {
		name  string
		table *fakeTable
		pause PauseSignal
		want  Outcome
	}{
		{
			name:  "survives timeout",
			table: &fakeTable{appearAt: 200 * time.Millisecond},
			want:  OutcomePassed,
		},
		{
			name:  "dies mid trial",
			table: &fakeTable{dieAt: 2 * time.Second},
			want:  OutcomeCrashed,
		},
		{
			name:  "never appears",
			table: &fakeTable{never: true},
			want:  OutcomeCrashed,
		},
		{
			name:  "lookup error counts as dead",
			table: &fakeTable{lookupErr: errors.New("tasklist missing")},
			want:  OutcomeCrashed,
		},
		{
			name:  "operator pause",
			table: &fakeTable{},
			pause: pauseAfter(3),
			want:  OutcomePaused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.table.clock = newFakeClock()
			var opts []Option
			if tt.pause != nil {
				opts = append(opts, WithPauseSignal(tt.pause))
			}
			o, launcher := newTestOracle(t, tt.table, opts...)

			got, err := o.Trial(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, launcher.starts)
			assert.Contains(t, tt.table.named, DefaultCrashReporter, "crash reporter must always be killed")
		})
	}
}

func TestOracle_PassedWaitsFullTimeout(t *testing.T) {
	table := &fakeTable{clock: newFakeClock()}
	o, _ := newTestOracle(t, table)
	start := table.clock.Now()

	got, err := o.Trial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, got)

	// launch settle + timeout + close settle + after close delay
	elapsed := table.clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second+time.Second)
	assert.Equal(t, []string{"4242"}, table.kills)
}

func TestOracle_NeverAppearsUsesStartupGrace(t *testing.T) {
	table := &fakeTable{clock: newFakeClock(), never: true}
	o, _ := newTestOracle(t, table)

	got, err := o.Trial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCrashed, got)
	// 30 grace polls plus the terminate lookup.
	assert.Equal(t, 31, table.lookups)
	assert.Contains(t, table.named, "Game.exe", "kill by name when no pid is found")
}

func TestOracle_PauseDuringStartupGrace(t *testing.T) {
	table := &fakeTable{clock: newFakeClock(), never: true}
	o, _ := newTestOracle(t, table, WithPauseSignal(pauseAfter(2)))

	got, err := o.Trial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, got)
	// Two grace polls before the pause is seen, then the terminate lookup.
	assert.Equal(t, 3, table.lookups)
}

func TestOracle_LaunchError(t *testing.T) {
	table := &fakeTable{clock: newFakeClock()}
	o, launcher := newTestOracle(t, table)
	launcher.err = errors.New("exec format error")

	got, err := o.Trial(context.Background())
	assert.Equal(t, OutcomeCrashed, got)

	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "/games/Game.exe", le.Path)
}

func TestOracle_CancelledContextPauses(t *testing.T) {
	table := &fakeTable{clock: newFakeClock()}
	o, _ := newTestOracle(t, table)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := o.Trial(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, got)
	assert.NotEmpty(t, table.kills)
}

func TestOutcome_Validate(t *testing.T) {
	for _, o := range []Outcome{OutcomePassed, OutcomeCrashed, OutcomePaused} {
		assert.NoError(t, o.Validate())
	}
	assert.Error(t, Outcome("maybe").Validate())
}

func TestParseTasklist(t *testing.T) {
	out := []byte("\"Explorer.EXE\",\"1000\",\"Console\",\"1\",\"90,000 K\"\r\n" +
		"\"OblivionRemastered.exe\",\"5120\",\"Console\",\"1\",\"2,000,000 K\"\r\n")

	pid, found := parseTasklist(out, "oblivionremastered.exe")
	assert.True(t, found)
	assert.Equal(t, "5120", pid)

	_, found = parseTasklist([]byte("INFO: No tasks are running which match the specified criteria.\r\n"), "x.exe")
	assert.False(t, found)
}

func TestParsePgrep(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		image   string
		wantPID string
		found   bool
	}{
		{"exact name", "812 Game.exe\n913 Game.exe\n", "Game.exe", "812", true},
		{"skips other names", "77 bash\n812 Game.exe\n", "Game.exe", "812", true},
		{"long image uses kernel name", "5120 OblivionRemaste\n", "OblivionRemastered.exe", "5120", true},
		{"similar name", "19782 SkyrimSE.exe.bak\n", "SkyrimSE.exe", "", false},
		{"foreign command line", "19782 bash\n", "SkyrimSE.exe", "", false},
		{"empty", "", "Game.exe", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, found := parsePgrep([]byte(tt.out), tt.image)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.wantPID, pid)
		})
	}
}

func TestCommPattern(t *testing.T) {
	assert.Equal(t, `Game\.exe`, commPattern("Game.exe"))
	assert.Equal(t, "OblivionRemaste", commPattern("OblivionRemastered.exe"))
}

func pauseAfter(n int) PauseSignal {
	calls := 0
	return PauseFunc(func() bool {
		calls++
		return calls > n
	})
}
