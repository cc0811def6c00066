package bus

import "fmt"

// Shared topics of the transfer functionality.
const (
	TopicFulfil       = "topic-transfer-fulfil"
	TopicTransfer     = "topic-transfer-transfer"
	TopicNotification = "topic-transfer-notification"
)

// PrepareTopic names the per-participant prepare topic.
func PrepareTopic(participant string) string {
	return fmt.Sprintf("topic-%s-transfer-prepare", participant)
}

// PositionTopic names the per-participant position topic of an action.
func PositionTopic(participant, action string) string {
	return fmt.Sprintf("topic-%s-position-%s", participant, action)
}

// GeneralTopic names the shared topic of a functionality and action,
// eg ("transfer", "fulfil") => "topic-transfer-fulfil".
func GeneralTopic(functionality, action string) string {
	return fmt.Sprintf("topic-%s-%s", functionality, action)
}
