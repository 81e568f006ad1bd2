// Package enrichment relays the progress of an external enrichment routine
// and colours its final per-cell result.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/scopeserve/color"
	"github.com/hupe1980/scopeserve/persistence"
)

// ErrNoResult is reported when a routine finishes without a value.
var ErrNoResult = errors.New("enrichment: routine produced no result")

// Step is one progress report of a routine. Value is set on the final step
// only and holds one score per cell.
type Step struct {
	Step    int
	Code    int
	Message string
	Value   []float32
}

// Routine is an enrichment computation over a gene set. Run closes the
// returned channel when it is done or ctx is cancelled.
type Routine interface {
	Run(ctx context.Context, geneSetPath string, src color.Source) <-chan Step
}

// RoutineFunc adapts a function to Routine.
type RoutineFunc func(ctx context.Context, geneSetPath string, src color.Source) <-chan Step

// Run calls f.
func (f RoutineFunc) Run(ctx context.Context, geneSetPath string, src color.Source) <-chan Step {
	return f(ctx, geneSetPath, src)
}

// Options configures the colouring of the final value.
type Options struct {
	// VMax is the scaling ceiling; zero selects color.DefaultVMax.
	VMax float64
	VMin float64
	// Compression of the final colours. CompressionNone selects zstd.
	Compression persistence.Compression
	Logger      *slog.Logger
}

// Update is one relayed message. The last update has Final set and carries
// either the coloured result or Err.
type Update struct {
	Step    int
	Code    int
	Message string

	Final bool
	Err   error
	// HexVec is the compressed block of concatenated colours, one per cell.
	HexVec []byte
	VMax   float64
}

// Relay runs routine and forwards its progress. The returned channel is
// closed after the final update, or when ctx is cancelled. The routine's
// context is cancelled once the relay ends, and steps it sends afterwards are
// discarded until it closes its channel.
func Relay(ctx context.Context, routine Routine, geneSetPath string, src color.Source, opts Options) <-chan Update {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("component", "enrichment", "geneset", geneSetPath)

	out := make(chan Update)
	runCtx, cancel := context.WithCancel(ctx)
	steps := routine.Run(runCtx, geneSetPath, src)
	go func() {
		defer close(out)
		defer func() {
			cancel()
			if steps != nil {
				go func() {
					for range steps {
					}
				}()
			}
		}()
		send := func(u Update) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if steps == nil {
			send(Update{Final: true, Err: ErrNoResult})
			return
		}

		for {
			var (
				s  Step
				ok bool
			)
			select {
			case s, ok = <-steps:
			case <-ctx.Done():
				log.Debug("relay cancelled", "error", ctx.Err())
				return
			}
			if !ok {
				send(Update{Final: true, Err: ErrNoResult})
				return
			}
			if s.Value == nil {
				if !send(Update{Step: s.Step, Code: s.Code, Message: s.Message}) {
					return
				}
				continue
			}

			u := Update{Step: s.Step, Code: s.Code, Message: s.Message, Final: true}
			u.HexVec, u.VMax, u.Err = encode(s.Value, src.NumCells(), opts)
			if u.Err != nil {
				log.Warn("colouring enrichment result failed", "error", u.Err)
			} else {
				log.Info("enrichment finished", "step", s.Step, "vmax", u.VMax)
			}
			send(u)
			return
		}
	}()
	return out
}

func encode(v []float32, cells int, opts Options) ([]byte, float64, error) {
	if len(v) != cells {
		return nil, 0, fmt.Errorf("enrichment: %d values for %d cells", len(v), cells)
	}
	vmax := opts.VMax
	if vmax <= 0 {
		vmax = color.DefaultVMax(v)
	}
	scaled := color.Normalise(v, vmax, opts.VMin)

	var sb strings.Builder
	sb.Grow(len(scaled) * 6)
	for _, x := range scaled {
		sb.WriteString(color.Hex(x, 0, 0))
	}

	c := opts.Compression
	if c == persistence.CompressionNone {
		c = persistence.CompressionZSTD
	}
	block, err := persistence.CompressBlock([]byte(sb.String()), c)
	if err != nil {
		return nil, 0, err
	}
	return block, vmax, nil
}
