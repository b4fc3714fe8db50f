package ports

import "context"

// HealthChecker abstracts a probe of a store or transport dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
