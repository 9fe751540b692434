package installer

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// dpkgStatusFormat prints "<status>\t<version>" for one package.
const dpkgStatusFormat = "-f=${db:Status-Status}\t${Version}\n"

// AptPackage installs a named package with apt-get.
type AptPackage struct {
	cmd  command
	lock *PackageManagerLock
}

// NewAptPackage creates the AptPackage strategy.
func NewAptPackage(runner ports.CommandRunner, lock *PackageManagerLock, sudo bool) *AptPackage {
	return &AptPackage{cmd: command{runner: runner, sudo: sudo}, lock: lock}
}

// Method returns plan.MethodAptPackage.
func (s *AptPackage) Method() plan.Method { return plan.MethodAptPackage }

// NeedsFetch returns false.
func (s *AptPackage) NeedsFetch() bool { return false }

// Satisfied asks dpkg whether the package is installed at the pinned
// version, if any.
func (s *AptPackage) Satisfied(ctx context.Context, d plan.Descriptor) (bool, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return false, provision.NewCancelledError(err)
	}
	defer release()

	res, err := s.cmd.query(ctx, "dpkg-query", "-W", dpkgStatusFormat, d.Location)
	if err != nil {
		return false, err
	}
	if !res.Success() {
		return false, nil // unknown package
	}

	status, version, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\t")
	if status != "installed" {
		return false, nil
	}
	return debianVersionMatches(version, d.Version), nil
}

// Install runs apt-get install. An already-installed package is a no-op
// for apt and so succeeds.
func (s *AptPackage) Install(ctx context.Context, d plan.Descriptor, _ string) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return provision.NewCancelledError(err)
	}
	defer release()

	args := []string{"install", "-y"}
	if d.NoRecommends {
		args = append(args, "--no-install-recommends")
	}
	args = append(args, packageSpec(d))

	name, full := aptEnv(args...)
	_, err = s.cmd.run(ctx, name, full...)
	return err
}

func packageSpec(d plan.Descriptor) string {
	if d.Version == "" || d.Version == "latest" {
		return d.Location
	}
	return d.Location + "=" + d.Version
}

// debianVersionMatches reports whether an installed Debian version satisfies
// a pin. A pin matches exactly or as the upstream part before a Debian
// revision ("18.1.0" matches "18.1.0-1ubuntu2").
func debianVersionMatches(installed, want string) bool {
	if want == "" || want == "latest" {
		return true
	}
	if installed == want {
		return true
	}
	if _, rest, ok := strings.Cut(installed, ":"); ok && !strings.Contains(want, ":") {
		installed = rest // drop epoch
	}
	return installed == want || strings.HasPrefix(installed, want+"-") || strings.HasPrefix(installed, want+"+")
}
