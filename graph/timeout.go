package graph

import (
	"context"
	"fmt"
	"time"
)

// executeNodeWithTimeout wraps a single node execution with timeout
// enforcement. A zero timeout means unlimited execution; otherwise ctx is
// derived with context.WithTimeout and a deadline-exceeded outcome is
// reported as an *ExecutionError so it flows through the same failure path
// as any other node error (and is subject to the same retry classification).
func executeNodeWithTimeout(ctx context.Context, node Node, nodeCtx NodeContext, nodeID string, timeout time.Duration) (NodeOutput, error) {
	if timeout <= 0 {
		return node.Run(nodeCtx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nodeCtx.Context = timeoutCtx
	output, err := node.Run(nodeCtx)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return output, &ExecutionError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			NodeID:  nodeID,
			Cause:   context.DeadlineExceeded,
		}
	}

	return output, err
}
