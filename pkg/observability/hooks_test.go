package observability

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	p := NoopPipelineHooks{}
	p.OnJobStart(ctx, "plan.svg")
	p.OnAttempt(ctx, "plan.svg", "rasterize", "inkscape-1x", true, time.Second)
	p.OnJobComplete(ctx, "plan.svg", "succeeded", time.Second, nil)

	b := NoopBundleHooks{}
	b.OnCollect(ctx, 3, 1)
	b.OnArchive(ctx, "bundle.zip", 3, 1024)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Pipeline() should return NoopPipelineHooks by default")
	}
	if _, ok := Bundle().(NoopBundleHooks); !ok {
		t.Error("Bundle() should return NoopBundleHooks by default")
	}

	customPipeline := &testPipelineHooks{}
	SetPipelineHooks(customPipeline)
	if Pipeline() != customPipeline {
		t.Error("SetPipelineHooks should set custom hooks")
	}

	customBundle := &testBundleHooks{}
	SetBundleHooks(customBundle)
	if Bundle() != customBundle {
		t.Error("SetBundleHooks should set custom hooks")
	}

	Reset()
	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Reset() should restore NoopPipelineHooks")
	}
	if _, ok := Bundle().(NoopBundleHooks); !ok {
		t.Error("Reset() should restore NoopBundleHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()
	defer Reset()

	custom := &testPipelineHooks{}
	SetPipelineHooks(custom)
	SetPipelineHooks(nil)
	if Pipeline() != custom {
		t.Error("SetPipelineHooks(nil) should keep the registered hooks")
	}
}

func TestCustomHooksReceiveEvents(t *testing.T) {
	Reset()
	defer Reset()

	h := &testPipelineHooks{}
	SetPipelineHooks(h)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Pipeline().OnJobStart(ctx, "a.svg")
			Pipeline().OnJobComplete(ctx, "a.svg", "succeeded", time.Millisecond, nil)
		}()
	}
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.starts != 4 || h.completes != 4 {
		t.Errorf("starts=%d completes=%d, want 4 and 4", h.starts, h.completes)
	}
}

type testPipelineHooks struct {
	mu        sync.Mutex
	starts    int
	completes int
}

func (h *testPipelineHooks) OnJobStart(context.Context, string) {
	h.mu.Lock()
	h.starts++
	h.mu.Unlock()
}

func (h *testPipelineHooks) OnJobComplete(context.Context, string, string, time.Duration, error) {
	h.mu.Lock()
	h.completes++
	h.mu.Unlock()
}

func (h *testPipelineHooks) OnAttempt(context.Context, string, string, string, bool, time.Duration) {}

type testBundleHooks struct{}

func (testBundleHooks) OnCollect(context.Context, int, int)           {}
func (testBundleHooks) OnArchive(context.Context, string, int, int64) {}
