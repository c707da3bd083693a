//go:build property

package circuitbreaker

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBreakerProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("threshold consecutive failures always open the breaker", prop.ForAll(
		func(threshold int) bool {
			b := New("p", Config{FailureThreshold: threshold}, testclock.NewClock(epoch), nil)
			for i := 0; i < threshold-1; i++ {
				b.RecordFailure()
				if !b.CanExecute() {
					return false
				}
			}
			b.RecordFailure()
			return !b.CanExecute()
		},
		gen.IntRange(1, 50),
	))

	properties.Property("exactly one trial call per cool-down", prop.ForAll(
		func(callers int) bool {
			clk := testclock.NewClock(epoch)
			b := New("p", Config{FailureThreshold: 1, RecoveryTimeout: time.Second}, clk, nil)
			b.RecordFailure()
			clk.Advance(time.Second)
			granted := 0
			for i := 0; i < callers; i++ {
				if b.CanExecute() {
					granted++
				}
			}
			return granted == 1
		},
		gen.IntRange(1, 100),
	))

	properties.Property("success after trial call resets failure count", prop.ForAll(
		func(failures int) bool {
			clk := testclock.NewClock(epoch)
			b := New("p", Config{FailureThreshold: 1, RecoveryTimeout: time.Second}, clk, nil)
			for i := 0; i < failures; i++ {
				b.RecordFailure()
			}
			clk.Advance(time.Second)
			b.CanExecute()
			b.RecordSuccess()
			s := b.Stats()
			return s.State == StateClosed && s.FailureCount == 0
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
