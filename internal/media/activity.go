package media

import (
	"context"
	"errors"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/rs/zerolog/log"
)

// emaWeight controls how fast the rolling level tracks the instantaneous
// chunk level.
const emaWeight = 0.25

// Detector marks the local user speaking while the rolling mean magnitude of
// captured audio stays above the threshold. Presentation-only: nothing here
// feeds back into negotiation.
type Detector struct {
	threshold float64
	hold      time.Duration
	onChange  func(speaking bool)

	speaking atomic.Bool
}

// NewDetector builds a detector. threshold is a normalized magnitude in
// [0, 1]; hold keeps the flag up through short pauses. onChange may be nil.
func NewDetector(threshold float64, hold time.Duration, onChange func(bool)) *Detector {
	return &Detector{threshold: threshold, hold: hold, onChange: onChange}
}

func (d *Detector) Speaking() bool { return d.speaking.Load() }

// Run consumes the capture until ctx ends or the track closes. The read pace
// is set by the capture itself, one chunk per frame.
func (d *Detector) Run(ctx context.Context, reader audio.Reader) error {
	var rolling float64
	var lastAbove time.Time

	for {
		select {
		case <-ctx.Done():
			d.set(false)
			return nil
		default:
		}

		chunk, release, err := reader.Read()
		if err != nil {
			d.set(false)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		level := chunkLevel(chunk)
		release()

		rolling = rolling*(1-emaWeight) + level*emaWeight
		now := time.Now()
		if rolling > d.threshold {
			lastAbove = now
		}
		d.set(!lastAbove.IsZero() && now.Sub(lastAbove) <= d.hold)
	}
}

func (d *Detector) set(speaking bool) {
	if d.speaking.Swap(speaking) == speaking {
		return
	}
	log.Debug().Str("module", "media").Bool("speaking", speaking).Msg("local activity")
	if d.onChange != nil {
		d.onChange(speaking)
	}
}

// chunkLevel is the mean absolute sample magnitude normalized to [0, 1].
func chunkLevel(chunk wave.Audio) float64 {
	switch b := chunk.(type) {
	case *wave.Int16Interleaved:
		var sum float64
		for _, s := range b.Data {
			sum += math.Abs(float64(s))
		}
		return mean(sum, len(b.Data)) / math.MaxInt16
	case *wave.Int16NonInterleaved:
		var sum float64
		n := 0
		for _, ch := range b.Data {
			for _, s := range ch {
				sum += math.Abs(float64(s))
			}
			n += len(ch)
		}
		return mean(sum, n) / math.MaxInt16
	case *wave.Float32Interleaved:
		var sum float64
		for _, s := range b.Data {
			sum += math.Abs(float64(s))
		}
		return mean(sum, len(b.Data))
	case *wave.Float32NonInterleaved:
		var sum float64
		n := 0
		for _, ch := range b.Data {
			for _, s := range ch {
				sum += math.Abs(float64(s))
			}
			n += len(ch)
		}
		return mean(sum, n)
	default:
		return 0
	}
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
