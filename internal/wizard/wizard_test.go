package wizard

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStep is a Step whose validity and finish behaviour are set by the test.
type fakeStep struct {
	mu        sync.Mutex
	valid     bool
	finish    func(ctx context.Context) (any, error)
	finishes  int
	activated int
}

func newStep(valid bool) *fakeStep {
	return &fakeStep{valid: valid}
}

func (s *fakeStep) setValid(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = v
}

func (s *fakeStep) Validate() ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid {
		return Valid()
	}
	return Invalid("name", "name is required")
}

func (s *fakeStep) Finish(ctx context.Context) (any, error) {
	s.mu.Lock()
	s.finishes++
	fn := s.finish
	s.mu.Unlock()
	if fn == nil {
		return "done", nil
	}
	return fn(ctx)
}

func (s *fakeStep) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated++
}

func (s *fakeStep) activations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated
}

// plainStep has no Activate method.
type plainStep struct{}

func (plainStep) Validate() ValidationResult          { return Valid() }
func (plainStep) Finish(context.Context) (any, error) { return nil, nil }

func await(t *testing.T, f *future.Future[Outcome]) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := f.Await(ctx)
	require.NoError(t, err, "outcome never arrived")
	return out
}

func TestNew_RequiresSteps(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ierr.ErrConfiguration)

	_, err = New([]Step{newStep(true), nil})
	assert.ErrorIs(t, err, ierr.ErrConfiguration)
}

func TestNew_ActivatesFirstStep(t *testing.T) {
	a, b := newStep(true), newStep(true)
	c, err := New([]Step{a, b, plainStep{}})
	require.NoError(t, err)

	assert.Equal(t, 0, c.Index())
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Running())
	assert.Equal(t, Editing, c.State())
	assert.Equal(t, 1, a.activations())
	assert.Equal(t, 0, b.activations())
}

// Scenario C: next is gated on the current step's validation.
func TestNext_GatedOnValidation(t *testing.T) {
	a, b := newStep(false), newStep(true)
	c, err := New([]Step{a, b})
	require.NoError(t, err)

	assert.False(t, c.CanGoNext())
	assert.False(t, c.Next())
	assert.Equal(t, 0, c.Index())
	assert.False(t, c.Validation().OK)
	assert.True(t, c.Validation().HasField("name"))

	a.setValid(true)
	assert.True(t, c.CanGoNext())
	assert.True(t, c.Next())
	assert.Equal(t, 1, c.Index())
	assert.Equal(t, 1, b.activations())
	assert.Same(t, b, c.Current())
}

func TestPrevious(t *testing.T) {
	a, b := newStep(true), newStep(false)
	c, err := New([]Step{a, b})
	require.NoError(t, err)

	assert.False(t, c.Previous(), "cannot go back from the first step")

	require.True(t, c.Next())
	assert.True(t, c.Previous(), "going back does not need the current step to be valid")
	assert.Equal(t, 0, c.Index())
	assert.Equal(t, 2, a.activations(), "step is re-activated when returned to")
}

func TestCanFinish(t *testing.T) {
	a, b := newStep(true), newStep(false)
	c, err := New([]Step{a, b})
	require.NoError(t, err)

	assert.False(t, c.CanFinish(), "not on the last step")
	require.True(t, c.Next())
	assert.False(t, c.CanFinish(), "last step invalid")
	assert.False(t, c.CanGoNext(), "no step after the last")

	b.setValid(true)
	assert.True(t, c.CanFinish())
}

func TestFinish_RefusedLeavesStateUnchanged(t *testing.T) {
	a, b := newStep(true), newStep(false)
	c, err := New([]Step{a, b})
	require.NoError(t, err)

	_, err = c.Finish(context.Background())
	assert.ErrorIs(t, err, ierr.ErrInvalidState)
	assert.Equal(t, 0, c.Index())

	require.True(t, c.Next())
	for i := 0; i < 3; i++ {
		_, err = c.Finish(context.Background())
		assert.ErrorIs(t, err, ierr.ErrInvalidState)
		assert.Contains(t, err.Error(), "name is required")
	}
	assert.Equal(t, 1, c.Index())
	assert.False(t, c.Running())
	assert.Equal(t, Editing, c.State())
	assert.Equal(t, 0, b.finishes)
}

func TestFinish_Success(t *testing.T) {
	only := newStep(true)
	only.finish = func(context.Context) (any, error) { return map[string]int{"ok": 1}, nil }

	c, err := New([]Step{only}, WithName("add-vdisk"))
	require.NoError(t, err)

	f, err := c.Finish(context.Background())
	require.NoError(t, err)

	out := await(t, f)
	assert.True(t, out.Success)
	assert.NoError(t, out.Err)
	assert.Equal(t, map[string]int{"ok": 1}, out.Data)
	assert.False(t, c.Running())
	assert.Equal(t, Closed, c.State())

	_, err = c.Finish(context.Background())
	assert.ErrorIs(t, err, ierr.ErrInvalidState, "a closed wizard cannot finish again")
	assert.False(t, c.Previous())
}

// Scenario D: a rejected step finish produces a failed outcome and clears running.
func TestFinish_Failure(t *testing.T) {
	a, b := newStep(true), newStep(true)
	b.finish = func(context.Context) (any, error) { return nil, errors.New("boom") }

	c, err := New([]Step{a, b})
	require.NoError(t, err)
	require.True(t, c.Next())

	f, err := c.Finish(context.Background())
	require.NoError(t, err)

	out := await(t, f)
	assert.False(t, out.Success)
	assert.EqualError(t, out.Err, "boom")
	assert.False(t, c.Running())
	assert.Equal(t, Editing, c.State(), "failed finish keeps the wizard open")
	assert.Equal(t, 1, c.Index())

	// the caller may retry once the problem is fixed
	b.finish = nil
	f, err = c.Finish(context.Background())
	require.NoError(t, err)
	assert.True(t, await(t, f).Success)
}

func TestFinish_NotReentrant(t *testing.T) {
	release := make(chan struct{})
	a, b := newStep(true), newStep(true)
	b.finish = func(context.Context) (any, error) {
		<-release
		return "saved", nil
	}

	c, err := New([]Step{a, b})
	require.NoError(t, err)
	require.True(t, c.Next())

	f, err := c.Finish(context.Background())
	require.NoError(t, err)

	assert.True(t, c.Running())
	assert.Equal(t, Finishing, c.State())
	assert.False(t, c.CanFinish())
	assert.False(t, c.Previous())
	assert.False(t, c.Next())
	_, err = c.Finish(context.Background())
	assert.ErrorIs(t, err, ierr.ErrInvalidState)
	assert.ErrorIs(t, c.Close(), ierr.ErrInvalidState)

	close(release)
	out := await(t, f)
	assert.True(t, out.Success)
	assert.Equal(t, 1, b.finishes, "double submission must not reach the step")
}

func TestFinish_PanicBecomesFailure(t *testing.T) {
	only := newStep(true)
	only.finish = func(context.Context) (any, error) { panic("unexpected") }

	c, err := New([]Step{only})
	require.NoError(t, err)

	f, err := c.Finish(context.Background())
	require.NoError(t, err)

	out := await(t, f)
	assert.False(t, out.Success)
	assert.ErrorContains(t, out.Err, "panicked")
	assert.False(t, c.Running())
}

func TestFinish_ContextPassedToStep(t *testing.T) {
	type key struct{}
	only := newStep(true)
	only.finish = func(ctx context.Context) (any, error) { return ctx.Value(key{}), nil }

	c, err := New([]Step{only})
	require.NoError(t, err)

	f, err := c.Finish(context.WithValue(context.Background(), key{}, "tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", await(t, f).Data)
}

func TestClose(t *testing.T) {
	a, b := newStep(true), newStep(true)
	c, err := New([]Step{a, b})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
	assert.Equal(t, Closed, c.State())
	assert.False(t, c.CanGoNext())
	assert.False(t, c.Next())
}

// Index stays in range and CanFinish matches its definition under random
// navigation and validity changes.
func TestNavigation_RandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for n := 1; n <= 6; n++ {
		steps := make([]*fakeStep, n)
		asSteps := make([]Step, n)
		for i := range steps {
			steps[i] = newStep(rng.Intn(2) == 0)
			asSteps[i] = steps[i]
		}
		c, err := New(asSteps)
		require.NoError(t, err)

		for i := 0; i < 200; i++ {
			switch rng.Intn(3) {
			case 0:
				c.Next()
			case 1:
				c.Previous()
			case 2:
				steps[rng.Intn(n)].setValid(rng.Intn(2) == 0)
			}

			idx := c.Index()
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, n)

			wantFinish := idx == n-1 && steps[idx].Validate().OK
			require.Equal(t, wantFinish, c.CanFinish())
			wantNext := idx < n-1 && steps[idx].Validate().OK
			require.Equal(t, wantNext, c.CanGoNext())
		}
	}
}

func TestNavigation_Concurrent(t *testing.T) {
	steps := make([]Step, 5)
	for i := range steps {
		steps[i] = newStep(true)
	}
	c, err := New(steps)
	require.NoError(t, err)

	var moves atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if (g+i)%2 == 0 {
					if c.Next() {
						moves.Add(1)
					}
				} else if c.Previous() {
					moves.Add(-1)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int(moves.Load()), c.Index())
}

func TestValidationResult_Merge(t *testing.T) {
	merged := Valid().
		Merge(Invalid("size", "size must be positive")).
		Merge(Invalid("size", "size exceeds pool capacity")).
		Merge(Invalid("", "backend unreachable"))

	assert.False(t, merged.OK)
	assert.Equal(t, []string{"size must be positive", "size exceeds pool capacity", "backend unreachable"}, merged.Reasons)
	assert.Equal(t, []string{"size"}, merged.Fields)

	assert.True(t, Valid().Merge(Valid()).OK)
}
