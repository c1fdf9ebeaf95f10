package enums

// OutboxDLQErrorReason records why the publisher dead-lettered an order event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means the event kept failing until the retry budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable covers malformed payloads and unknown event types.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	}
	return false
}
