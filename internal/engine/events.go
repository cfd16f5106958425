package engine

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// StackEvent is one entry from a stack's event stream.
type StackEvent struct {
	EventID              string
	StackID              string
	StackName            string
	Timestamp            time.Time
	LogicalResourceID    string
	PhysicalResourceID   string
	ResourceType         string
	ResourceStatus       ResourceStatus
	ResourceStatusReason string
}

// StackLevel reports whether the event describes the stack itself rather
// than one of its resources.
func (e StackEvent) StackLevel() bool {
	return e.PhysicalResourceID != "" && e.PhysicalResourceID == e.StackID
}

func fromSDKEvent(raw types.StackEvent) StackEvent {
	ev := StackEvent{
		EventID:              aws.ToString(raw.EventId),
		StackID:              aws.ToString(raw.StackId),
		StackName:            aws.ToString(raw.StackName),
		LogicalResourceID:    aws.ToString(raw.LogicalResourceId),
		PhysicalResourceID:   aws.ToString(raw.PhysicalResourceId),
		ResourceType:         aws.ToString(raw.ResourceType),
		ResourceStatus:       ResourceStatus(raw.ResourceStatus),
		ResourceStatusReason: aws.ToString(raw.ResourceStatusReason),
	}
	if raw.Timestamp != nil {
		ev.Timestamp = *raw.Timestamp
	}
	return ev
}
