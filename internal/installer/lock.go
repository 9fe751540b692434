package installer

import "context"

// PackageManagerLock is the exclusive token for the package manager index
// and dpkg lock. Every apt/dpkg invocation happens while holding it.
type PackageManagerLock struct {
	token chan struct{}
}

// NewPackageManagerLock creates an unheld lock.
func NewPackageManagerLock() *PackageManagerLock {
	l := &PackageManagerLock{token: make(chan struct{}, 1)}
	l.token <- struct{}{}
	return l
}

// Acquire blocks until the lock is held or ctx is done. The returned
// release function is idempotent.
func (l *PackageManagerLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case <-l.token:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	released := false
	return func() {
		if !released {
			released = true
			l.token <- struct{}{}
		}
	}, nil
}
