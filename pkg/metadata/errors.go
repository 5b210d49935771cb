package metadata

// ErrorCode mirrors the small set of per-partition error outcomes a
// metadata lookup can produce, instead of plumbing raw errors for
// conditions callers are expected to branch on.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorUnknownTopicOrPartition
	ErrorLeaderNotAvailable
	ErrorListenerNotFound
	ErrorReplicaNotAvailable
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "NONE"
	case ErrorUnknownTopicOrPartition:
		return "UNKNOWN_TOPIC_OR_PARTITION"
	case ErrorLeaderNotAvailable:
		return "LEADER_NOT_AVAILABLE"
	case ErrorListenerNotFound:
		return "LISTENER_NOT_FOUND"
	case ErrorReplicaNotAvailable:
		return "REPLICA_NOT_AVAILABLE"
	default:
		return "UNKNOWN"
	}
}
