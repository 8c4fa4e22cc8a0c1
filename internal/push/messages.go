package push

import "github.com/rollcall-project/rollcall/internal/record"

// Wire message types. One inbound event type matters to the engine:
// attendanceChanged, carrying the employee id and optionally its cluster.
const (
	TypeAuth               = "auth"
	TypeWelcome            = "welcome"
	TypeSubscribeCluster   = "subscribeToCluster"
	TypeUnsubscribeCluster = "unsubscribeFromCluster"
	TypeSubscribeAll       = "subscribeToAll"
	TypeUnsubscribeAll     = "unsubscribeFromAll"
	TypeAttendanceChanged  = "attendanceChanged"
	TypeError              = "error"
)

type message struct {
	Type     string         `json:"type"`
	APIKey   string         `json:"apiKey,omitempty"`
	ClientID string         `json:"clientID,omitempty"`
	Cluster  record.Cluster `json:"cluster,omitempty"`
	ID       string         `json:"id,omitempty"`
	Message  string         `json:"message,omitempty"`
}

func joinMessage(scope record.Scope) message {
	if cluster, ok := scope.Cluster(); ok {
		return message{Type: TypeSubscribeCluster, Cluster: cluster}
	}
	return message{Type: TypeSubscribeAll}
}

func leaveMessage(scope record.Scope) message {
	if cluster, ok := scope.Cluster(); ok {
		return message{Type: TypeUnsubscribeCluster, Cluster: cluster}
	}
	return message{Type: TypeUnsubscribeAll}
}
