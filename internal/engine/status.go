package engine

// ResourceStatus is a CloudFormation stack or resource status string.
type ResourceStatus string

const (
	StatusReviewInProgress ResourceStatus = "REVIEW_IN_PROGRESS"

	StatusCreateInProgress ResourceStatus = "CREATE_IN_PROGRESS"
	StatusCreateFailed     ResourceStatus = "CREATE_FAILED"
	StatusCreateComplete   ResourceStatus = "CREATE_COMPLETE"

	StatusDeleteInProgress ResourceStatus = "DELETE_IN_PROGRESS"
	StatusDeleteFailed     ResourceStatus = "DELETE_FAILED"
	StatusDeleteComplete   ResourceStatus = "DELETE_COMPLETE"

	StatusRollbackInProgress ResourceStatus = "ROLLBACK_IN_PROGRESS"
	StatusRollbackFailed     ResourceStatus = "ROLLBACK_FAILED"
	StatusRollbackComplete   ResourceStatus = "ROLLBACK_COMPLETE"

	StatusUpdateInProgress                ResourceStatus = "UPDATE_IN_PROGRESS"
	StatusUpdateFailed                    ResourceStatus = "UPDATE_FAILED"
	StatusUpdateComplete                  ResourceStatus = "UPDATE_COMPLETE"
	StatusUpdateCompleteCleanupInProgress ResourceStatus = "UPDATE_COMPLETE_CLEANUP_IN_PROGRESS"

	StatusUpdateRollbackInProgress                ResourceStatus = "UPDATE_ROLLBACK_IN_PROGRESS"
	StatusUpdateRollbackFailed                    ResourceStatus = "UPDATE_ROLLBACK_FAILED"
	StatusUpdateRollbackComplete                  ResourceStatus = "UPDATE_ROLLBACK_COMPLETE"
	StatusUpdateRollbackCompleteCleanupInProgress ResourceStatus = "UPDATE_ROLLBACK_COMPLETE_CLEANUP_IN_PROGRESS"
)

// IsTerminal reports whether a stack bearing this status has settled.
// Resource-level events reuse the same strings, so callers must pair this
// with a stack-identity check before ending a poll loop.
func (s ResourceStatus) IsTerminal() bool {
	switch s {
	case StatusCreateFailed, StatusCreateComplete,
		StatusDeleteFailed, StatusDeleteComplete,
		StatusRollbackFailed, StatusRollbackComplete,
		StatusUpdateFailed, StatusUpdateComplete,
		StatusUpdateRollbackFailed, StatusUpdateRollbackComplete:
		return true
	}
	return false
}

// IsError reports whether this status signals a failure. The rolled-back
// terminal states count: the operation did not do what was asked.
func (s ResourceStatus) IsError() bool {
	switch s {
	case StatusCreateFailed, StatusDeleteFailed, StatusRollbackFailed,
		StatusUpdateFailed, StatusUpdateRollbackFailed,
		StatusRollbackComplete, StatusUpdateRollbackComplete:
		return true
	}
	return false
}

// Sentiment expresses how an observer should read a status.
type Sentiment int

const (
	SentimentNeutral Sentiment = iota
	SentimentPositive
	SentimentNegative
)

// Sentiment classifies the status for display: forward completions are
// positive, failures and rollbacks negative, everything in flight neutral.
func (s ResourceStatus) Sentiment() Sentiment {
	if s.IsError() {
		return SentimentNegative
	}
	switch s {
	case StatusCreateComplete, StatusDeleteComplete, StatusUpdateComplete:
		return SentimentPositive
	}
	return SentimentNeutral
}
