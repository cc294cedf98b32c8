package graph

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeBackoff_DeterministicWithZeroJitter(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0,
	}

	// n=1 -> 100ms, n=2 -> 200ms, matching the scenario's exact values.
	if d := computeBackoff(1, policy, nil); d != 100*time.Millisecond {
		t.Errorf("expected 100ms at attempt 1, got %v", d)
	}
	if d := computeBackoff(2, policy, nil); d != 200*time.Millisecond {
		t.Errorf("expected 200ms at attempt 2, got %v", d)
	}
	if d := computeBackoff(3, policy, nil); d != 400*time.Millisecond {
		t.Errorf("expected 400ms at attempt 3, got %v", d)
	}
}

func TestComputeBackoff_CapsAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:      1 * time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 10.0,
		JitterFactor:      0,
	}
	// n=3 -> base = 1s * 10^2 = 100s, capped to 3s.
	if d := computeBackoff(3, policy, nil); d != 3*time.Second {
		t.Errorf("expected delay capped to 3s, got %v", d)
	}
}

func TestComputeBackoff_JitterStaysWithinBounds(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.0,
		JitterFactor:      0.2,
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		d := computeBackoff(1, policy, rng)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside expected +-20%% band around 1s", d)
		}
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	if err := DefaultRetryPolicy.Validate(); err != nil {
		t.Errorf("expected DefaultRetryPolicy to validate cleanly, got %v", err)
	}

	bad := RetryPolicy{MaxAttempts: 0}
	if err := bad.Validate(); err == nil {
		t.Error("expected a validation error for MaxAttempts < 1")
	}

	badJitter := RetryPolicy{MaxAttempts: 1, JitterFactor: 1.5}
	if err := badJitter.Validate(); err == nil {
		t.Error("expected a validation error for JitterFactor outside [0,1]")
	}

	badDelay := RetryPolicy{MaxAttempts: 1, InitialDelay: 10 * time.Second, MaxDelay: time.Second}
	if err := badDelay.Validate(); err == nil {
		t.Error("expected a validation error when InitialDelay exceeds MaxDelay")
	}
}

func TestDefaultRetryClassifier(t *testing.T) {
	retryable := []error{
		&ExecutionError{Message: "timeout"},
	}
	for _, err := range retryable {
		if !DefaultRetryClassifier(err) {
			t.Errorf("expected %T to be retryable", err)
		}
	}

	nonRetryable := []error{
		&RoutingError{Message: "no mapping"},
		&InvalidTransitionError{From: StateReady, To: StateCompleted},
		&ValidationError{Message: "bad input"},
		&CheckpointExpiredError{CheckpointID: "cp_1"},
		&NodeNotFoundError{NodeID: "missing"},
	}
	for _, err := range nonRetryable {
		if DefaultRetryClassifier(err) {
			t.Errorf("expected %T to never be retried", err)
		}
	}
}
