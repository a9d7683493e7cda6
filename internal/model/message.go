package model

// MessageType identifies a coordinator message on the broadcast bus
type MessageType string

const (
	MessageHeartbeat      MessageType = "leader-heartbeat"
	MessageClaim          MessageType = "leader-claim"
	MessageResign         MessageType = "leader-resign"
	MessageStatusUpdate   MessageType = "status-update"
	MessageRefetchRequest MessageType = "refetch-request"
)

// CoordinatorMessage is exchanged between tabs watching the same job.
// It only lives on the bus and is never persisted.
type CoordinatorMessage struct {
	Type      MessageType     `json:"type"`
	SenderID  string          `json:"senderId"`
	JobID     string          `json:"jobId"`
	Timestamp int64           `json:"timestamp"` // Sender-local epoch milliseconds
	Payload   *StatusSnapshot `json:"payload,omitempty"`
}
