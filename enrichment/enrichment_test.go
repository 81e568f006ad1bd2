package enrichment

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/scopeserve/color"
	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/persistence"
)

type cellsOnly int

func (c cellsOnly) NumCells() int                                       { return int(c) }
func (cellsOnly) Metadata() (*dataset.Metadata, error)                  { return &dataset.Metadata{}, nil }
func (cellsOnly) Expression(context.Context, string) ([]float32, error) { return nil, nil }
func (cellsOnly) CellTotals() ([]float64, error)                        { return nil, nil }
func (cellsOnly) RegulonAUC(string) ([]float32, error)                  { return nil, nil }
func (cellsOnly) Metric(string) ([]float32, error)                      { return nil, nil }
func (cellsOnly) Annotation(string) ([]string, error)                   { return nil, nil }
func (cellsOnly) Clustering(int) ([]int, error)                         { return nil, nil }

func scripted(steps ...Step) Routine {
	return RoutineFunc(func(ctx context.Context, _ string, _ color.Source) <-chan Step {
		ch := make(chan Step)
		go func() {
			defer close(ch)
			for _, s := range steps {
				select {
				case ch <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch
	})
}

func collect(ch <-chan Update) []Update {
	var out []Update
	for u := range ch {
		out = append(out, u)
	}
	return out
}

func TestRelay_ForwardsProgressThenResult(t *testing.T) {
	r := scripted(
		Step{Step: 1, Code: 200, Message: "loading gene set"},
		Step{Step: 2, Code: 200, Message: "ranking cells"},
		Step{Step: 3, Code: 200, Message: "done", Value: []float32{0, 0.5, 1, 0}},
	)

	ups := collect(Relay(context.Background(), r, "sets/hallmark.txt", cellsOnly(4), Options{VMax: 1}))
	require.Len(t, ups, 3)

	assert.Equal(t, "loading gene set", ups[0].Message)
	assert.False(t, ups[0].Final)
	assert.Equal(t, 2, ups[1].Step)

	last := ups[2]
	require.True(t, last.Final)
	require.NoError(t, last.Err)
	assert.Equal(t, 1.0, last.VMax)

	raw, err := persistence.DecompressBlock(last.HexVec)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{"XXXXXX", "720000", "e10000", "XXXXXX"}, ""), string(raw))
}

func TestRelay_DefaultVMax(t *testing.T) {
	r := scripted(Step{Step: 1, Value: []float32{0, 2, 4}})

	ups := collect(Relay(context.Background(), r, "g", cellsOnly(3), Options{Compression: persistence.CompressionLZ4}))
	require.Len(t, ups, 1)
	require.NoError(t, ups[0].Err)
	assert.InDelta(t, 3.96, ups[0].VMax, 1e-9)
}

func TestRelay_NoResult(t *testing.T) {
	r := scripted(Step{Step: 1, Message: "started"})

	ups := collect(Relay(context.Background(), r, "g", cellsOnly(2), Options{}))
	require.Len(t, ups, 2)
	assert.True(t, ups[1].Final)
	assert.ErrorIs(t, ups[1].Err, ErrNoResult)
}

func TestRelay_WrongLength(t *testing.T) {
	r := scripted(Step{Step: 1, Value: []float32{1, 2}})

	ups := collect(Relay(context.Background(), r, "g", cellsOnly(3), Options{}))
	require.Len(t, ups, 1)
	assert.True(t, ups[0].Final)
	assert.Error(t, ups[0].Err)
	assert.Nil(t, ups[0].HexVec)
}

func TestRelay_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := RoutineFunc(func(ctx context.Context, _ string, _ color.Source) <-chan Step {
		ch := make(chan Step)
		go func() {
			defer close(ch)
			select {
			case ch <- Step{Step: 1, Message: "first"}:
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
		}()
		return ch
	})

	out := Relay(ctx, block, "g", cellsOnly(1), Options{})
	u := <-out
	assert.Equal(t, "first", u.Message)
	cancel()

	for range out {
	}
}

// blind sends every step without watching ctx, then closes.
func blind(steps ...Step) Routine {
	return RoutineFunc(func(_ context.Context, _ string, _ color.Source) <-chan Step {
		ch := make(chan Step)
		go func() {
			defer close(ch)
			for _, s := range steps {
				ch <- s
			}
		}()
		return ch
	})
}

func TestRelay_TrailingStepsDoNotLeak(t *testing.T) {
	result := Step{Step: 1, Value: []float32{1}}
	trailing := Step{Step: 2, Message: "cleanup done"}
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		for _, r := range []Routine{scripted(result, trailing), blind(result, trailing, trailing)} {
			ups := collect(Relay(context.Background(), r, "g", cellsOnly(1), Options{VMax: 1}))
			require.Len(t, ups, 1)
			require.True(t, ups[0].Final)
			require.NoError(t, ups[0].Err)
		}
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRelay_CancelsRoutineAfterResult(t *testing.T) {
	done := make(chan struct{})
	r := RoutineFunc(func(ctx context.Context, _ string, _ color.Source) <-chan Step {
		ch := make(chan Step, 1)
		ch <- Step{Step: 1, Value: []float32{2}}
		go func() {
			defer close(ch)
			<-ctx.Done()
			close(done)
		}()
		return ch
	})

	ups := collect(Relay(context.Background(), r, "g", cellsOnly(1), Options{}))
	require.Len(t, ups, 1)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("routine context was not cancelled")
	}
}

func TestRelay_NilChannel(t *testing.T) {
	r := RoutineFunc(func(context.Context, string, color.Source) <-chan Step { return nil })
	ups := collect(Relay(context.Background(), r, "g", cellsOnly(1), Options{}))
	require.Len(t, ups, 1)
	assert.ErrorIs(t, ups[0].Err, ErrNoResult)
}
