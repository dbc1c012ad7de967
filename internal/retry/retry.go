// Package retry provides the bounded, fixed-wait retry policy that governs
// every remote mutation (uploads and CDN invalidations). There is no backoff
// curve and no transient/permanent classification: every error is retryable
// until the attempt budget is spent.
package retry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ExhaustedError is the terminal failure surfaced once the attempt budget is
// spent. It names the target of the operation, carries the total attempt
// count, and wraps the last underlying error.
type ExhaustedError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %v: failed after %d attempts", e.Target, e.Err, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Policy is a bounded retry policy: at most MaxAttempts attempts, with a
// blocking sleep of exactly Wait between consecutive attempts.
type Policy struct {
	MaxAttempts int
	Wait        time.Duration

	sleep func(time.Duration)
}

// New returns a policy with the given attempt budget and inter-attempt wait.
// A budget below one is raised to one so the operation runs at least once.
func New(maxAttempts int, wait time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{MaxAttempts: maxAttempts, Wait: wait, sleep: time.Sleep}
}

// Do runs op until it succeeds or the policy's attempt budget is exhausted.
// Each attempt returns an explicit (value, error) pair and the loop branches
// on the result; successive failures are separated by a blocking sleep of
// Wait. If every attempt fails the returned error is an *ExhaustedError
// naming target.
//
// Retries re-run the whole operation from scratch, including re-sending data
// that was already partially sent. Callers must tolerate duplicate writes;
// object-storage PUTs do.
func Do[T any](p Policy, target string, op func() (T, error)) (T, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	attempts := 0
	for {
		v, err := op()
		if err == nil {
			return v, nil
		}
		attempts++
		if attempts >= p.MaxAttempts {
			var zero T
			return zero, &ExhaustedError{Target: target, Attempts: attempts, Err: err}
		}
		log.Warn().
			Err(err).
			Str("target", target).
			Int("attempt", attempts).
			Dur("wait", p.Wait).
			Msg("remote operation failed, retrying")
		sleep(p.Wait)
	}
}
