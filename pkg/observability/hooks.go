// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers register hooks at startup
// to receive events about conversion jobs, strategy attempts and archives.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetPipelineHooks(&myPipelineHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Pipeline().OnJobStart(ctx, job.Source)
//	// ... run stages ...
//	observability.Pipeline().OnJobComplete(ctx, job.Source, status, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from conversion jobs.
// Implementations must be safe for concurrent use: jobs may run on a worker pool.
type PipelineHooks interface {
	// Job events
	OnJobStart(ctx context.Context, source string)
	OnJobComplete(ctx context.Context, source, status string, duration time.Duration, err error)

	// OnAttempt records one strategy invocation inside a stage.
	OnAttempt(ctx context.Context, source, stage, strategy string, ok bool, duration time.Duration)
}

// =============================================================================
// Bundle Hooks
// =============================================================================

// BundleHooks receives events from the collector and archiver.
type BundleHooks interface {
	// OnCollect records the outcome of a collection pass.
	OnCollect(ctx context.Context, copied, skipped int)

	// OnArchive records a written archive.
	OnArchive(ctx context.Context, destination string, members int, size int64)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnJobStart(context.Context, string) {}
func (NoopPipelineHooks) OnJobComplete(context.Context, string, string, time.Duration, error) {
}
func (NoopPipelineHooks) OnAttempt(context.Context, string, string, string, bool, time.Duration) {}

// NoopBundleHooks is a no-op implementation of BundleHooks.
type NoopBundleHooks struct{}

func (NoopBundleHooks) OnCollect(context.Context, int, int)           {}
func (NoopBundleHooks) OnArchive(context.Context, string, int, int64) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	pipelineHooks PipelineHooks = NoopPipelineHooks{}
	bundleHooks   BundleHooks   = NoopBundleHooks{}
	hooksMu       sync.RWMutex
)

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any job runs.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetBundleHooks registers custom collector/archiver hooks.
func SetBundleHooks(h BundleHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		bundleHooks = h
	}
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Bundle returns the registered bundle hooks.
func Bundle() BundleHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return bundleHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	pipelineHooks = NoopPipelineHooks{}
	bundleHooks = NoopBundleHooks{}
}
