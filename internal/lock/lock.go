package lock

import "context"

// Locker hands out exclusive locks by key. The returned func releases the
// lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
