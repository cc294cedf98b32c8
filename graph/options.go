package graph

import (
	"time"

	"github.com/flowforge/graphcore/graph/emit"
)

// RunnerOption configures a GraphRunner. The functional-options pattern
// keeps NewGraphRunner's signature stable as configuration grows.
type RunnerOption func(*runnerConfig) error

type runnerConfig struct {
	maxSteps           int
	defaultNodeTimeout time.Duration
	emitter            emit.Emitter
	metrics            *PrometheusMetrics
	retryPolicy        RetryPolicy
	retryClassifier    RetryClassifier
}

func defaultRunnerConfig() runnerConfig {
	return runnerConfig{
		maxSteps:        0,
		emitter:         emit.NewNullEmitter(),
		retryPolicy:     DefaultRetryPolicy,
		retryClassifier: DefaultRetryClassifier,
	}
}

// WithMaxSteps bounds the number of node executions per execute/resume call,
// guarding against unintended cycles. 0 (the default) means unlimited.
func WithMaxSteps(n int) RunnerOption {
	return func(cfg *runnerConfig) error {
		cfg.maxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the context deadline applied to a node's Run
// call when the node itself declares none. 0 means no deadline.
func WithDefaultNodeTimeout(d time.Duration) RunnerOption {
	return func(cfg *runnerConfig) error {
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithEmitter attaches an observability sink. The default is a no-op
// emitter.
func WithEmitter(e emit.Emitter) RunnerOption {
	return func(cfg *runnerConfig) error {
		if e == nil {
			return &ValidationError{Message: "WithEmitter requires a non-nil Emitter"}
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics attaches Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) RunnerOption {
	return func(cfg *runnerConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithRetryPolicy overrides the default retry policy applied to node
// execution failures.
func WithRetryPolicy(policy RetryPolicy) RunnerOption {
	return func(cfg *runnerConfig) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		cfg.retryPolicy = policy
		return nil
	}
}

// WithRetryClassifier overrides the default classifier deciding which node
// errors are retryable.
func WithRetryClassifier(classifier RetryClassifier) RunnerOption {
	return func(cfg *runnerConfig) error {
		if classifier == nil {
			return &ValidationError{Message: "WithRetryClassifier requires a non-nil classifier"}
		}
		cfg.retryClassifier = classifier
		return nil
	}
}
