package installer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/adapters/filesystem"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
	"github.com/felixgeelhaar/provisioner/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger satisfies the descriptors it names.
type fakeLedger struct {
	installed map[string]bool
	err       error
}

func (l fakeLedger) Satisfies(d plan.Descriptor) (bool, error) {
	return l.installed[d.Name], l.err
}

func ok() ports.CommandResult { return ports.CommandResult{} }

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry(Config{Runner: mocks.NewCommandRunner(), FileSystem: filesystem.NewRealFileSystem()})
	assert.Equal(t, []plan.Method{
		plan.MethodAptPackage,
		plan.MethodAptRepoBootstrap,
		plan.MethodArchiveExtract,
		plan.MethodSelfInstaller,
	}, r.Methods())

	for _, m := range plan.Methods() {
		s, err := r.Get(m)
		require.NoError(t, err)
		assert.Equal(t, m, s.Method())
		assert.Equal(t, m != plan.MethodAptPackage, s.NeedsFetch())
	}

	_, err := NewRegistry().Get(plan.MethodAptPackage)
	assert.Error(t, err)

	partial := NewRegistry(NewArchiveExtract(filesystem.NewRealFileSystem(), nil))
	_, err = partial.Get(plan.MethodSelfInstaller)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered: [archive-extract]")
}

func TestPackageManagerLock(t *testing.T) {
	t.Parallel()

	lock := NewPackageManagerLock()
	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent

	again, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	again()
}

func TestAptPackage_Satisfied(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version string
		result  ports.CommandResult
		want    bool
	}{
		{name: "installed, unpinned", result: ports.CommandResult{Stdout: "installed\t3.22.1-1ubuntu1\n"}, want: true},
		{name: "installed, upstream pin", version: "3.22.1", result: ports.CommandResult{Stdout: "installed\t3.22.1-1ubuntu1\n"}, want: true},
		{name: "installed, exact pin", version: "3.22.1-1ubuntu1", result: ports.CommandResult{Stdout: "installed\t3.22.1-1ubuntu1"}, want: true},
		{name: "installed, other version", version: "3.28.0", result: ports.CommandResult{Stdout: "installed\t3.22.1-1ubuntu1"}, want: false},
		{name: "config-files only", result: ports.CommandResult{Stdout: "config-files\t3.22.1-1"}, want: false},
		{name: "unknown package", result: ports.CommandResult{ExitCode: 1, Stderr: "dpkg-query: no packages found matching cmake"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := mocks.NewCommandRunner()
			runner.AddResult("dpkg-query", []string{"-W", dpkgStatusFormat, "cmake"}, tt.result)

			s := NewAptPackage(runner, NewPackageManagerLock(), false)
			got, err := s.Satisfied(context.Background(), plan.Descriptor{Name: "cmake", Location: "cmake", Version: tt.version})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAptPackage_Install(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.OnRun(func(context.Context, ports.CommandCall) (ports.CommandResult, error) { return ok(), nil })

	s := NewAptPackage(runner, NewPackageManagerLock(), true)
	require.NoError(t, s.Install(context.Background(), plan.Descriptor{
		Name: "libarrow-dev", Location: "libarrow-dev", Version: "18.1.0-1", NoRecommends: true,
	}, ""))
	require.NoError(t, s.Install(context.Background(), plan.Descriptor{Name: "git", Location: "git"}, ""))

	assert.Equal(t, []string{
		"sudo env DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends libarrow-dev=18.1.0-1",
		"sudo env DEBIAN_FRONTEND=noninteractive apt-get install -y git",
	}, runner.CallLines())
}

func TestAptPackage_InstallFailureCarriesDiagnostics(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.AddResult("env", []string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y", "libarrow-dev"},
		ports.CommandResult{ExitCode: 100, Stderr: "E: Unable to locate package libarrow-dev"})

	s := NewAptPackage(runner, NewPackageManagerLock(), false)
	err := s.Install(context.Background(), plan.Descriptor{Name: "libarrow-dev", Location: "libarrow-dev"}, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, provision.ErrSubprocess)
	assert.Equal(t, "E: Unable to locate package libarrow-dev", provision.DiagnosticsOf(err))
	assert.Contains(t, err.Error(), "exited with code 100")
}

func TestAptPackage_LaunchFailureAndCancellation(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.OnRun(func(ctx context.Context, _ ports.CommandCall) (ports.CommandResult, error) {
		if ctx.Err() != nil {
			return ports.CommandResult{ExitCode: -1}, ctx.Err()
		}
		return ports.CommandResult{}, errors.New(`exec: "apt-get": executable file not found in $PATH`)
	})
	s := NewAptPackage(runner, NewPackageManagerLock(), false)

	err := s.Install(context.Background(), plan.Descriptor{Name: "x", Location: "x"}, "")
	assert.ErrorIs(t, err, provision.ErrSubprocess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Install(ctx, plan.Descriptor{Name: "x", Location: "x"}, "")
	assert.ErrorIs(t, err, provision.ErrCancelled)
}

func TestAptStrategies_SerializeOnSharedLock(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	runner := mocks.NewCommandRunner()
	runner.OnRun(func(context.Context, ports.CommandCall) (ports.CommandResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return ports.CommandResult{Stdout: "apache-arrow-apt-source"}, nil
	})

	lock := NewPackageManagerLock()
	cfg := Config{Runner: runner, FileSystem: filesystem.NewRealFileSystem(), Lock: lock, WorkDir: t.TempDir()}
	pkg := NewAptPackage(runner, lock, false)
	repo := NewAptRepoBootstrap(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = pkg.Install(context.Background(), plan.Descriptor{Name: "p", Location: "p"}, "")
		}()
		go func() {
			defer wg.Done()
			_ = repo.Install(context.Background(), plan.Descriptor{Name: "r", Method: plan.MethodAptRepoBootstrap}, "/tmp/r.deb")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load(), "package manager calls overlapped")
}

func TestLedgerSatisfied(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	fs := filesystem.NewRealFileSystem()
	ledger := fakeLedger{installed: map[string]bool{"libtorch": true}}

	got, err := ledgerSatisfied(ledger, fs, plan.Descriptor{Name: "libtorch", Destination: dest})
	require.NoError(t, err)
	assert.True(t, got)

	got, _ = ledgerSatisfied(ledger, fs, plan.Descriptor{Name: "libtorch", Destination: dest + "/gone"})
	assert.False(t, got, "missing destination is not satisfied")

	got, _ = ledgerSatisfied(ledger, fs, plan.Descriptor{Name: "other", Destination: dest})
	assert.False(t, got)

	got, _ = ledgerSatisfied(nil, fs, plan.Descriptor{Name: "libtorch", Destination: dest})
	assert.False(t, got)

	_, err = ledgerSatisfied(fakeLedger{err: errors.New("corrupt")}, fs, plan.Descriptor{Name: "x"})
	assert.Error(t, err)
}
