package domain

import "encoding/json"

// MessageType tags every frame exchanged with clients.
type MessageType string

// Outbound message types (core -> clients)
const (
	MsgWelcome          MessageType = "welcome"
	MsgNewOrder         MessageType = "new_order"
	MsgOrderAssignment  MessageType = "order_assignment"
	MsgOrderUnassigned  MessageType = "order_unassigned"
	MsgLocationUpdate   MessageType = "location_update"
	MsgCourierStatus    MessageType = "courier_status"
	MsgTrackingClosed   MessageType = "tracking_closed"
	MsgAssignmentResult MessageType = "assignment_result"
	MsgError            MessageType = "error"
)

// Inbound message types (clients -> core)
const (
	MsgHello        MessageType = "hello"
	MsgLocation     MessageType = "location"
	MsgAvailability MessageType = "availability"
	MsgComplete     MessageType = "complete"
	MsgSubscribe    MessageType = "subscribe"
	MsgUnsubscribe  MessageType = "unsubscribe"
	MsgAssign       MessageType = "assign"
)

// Message is a frame sent from the core to a client.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	CourierID string          `json:"courier_id,omitempty"`
	Summary   json.RawMessage `json:"order_summary,omitempty"`
	Position  *Position       `json:"position,omitempty"`
	Online    *bool           `json:"online,omitempty"`
	LastSeen  int64           `json:"last_seen,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsLocation reports whether the message is a location update, the only
// kind the outbox may discard under back-pressure.
func (m Message) IsLocation() bool { return m.Type == MsgLocationUpdate }

// Inbound is a frame sent from a client to the core.
type Inbound struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Role      Role        `json:"role,omitempty"`
	OrderID   string      `json:"order_id,omitempty"`
	Lat       float64     `json:"lat,omitempty"`
	Lon       float64     `json:"lon,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	OriginLat float64     `json:"origin_lat,omitempty"`
	OriginLon float64     `json:"origin_lon,omitempty"`
	Available *bool       `json:"available,omitempty"`

	Summary json.RawMessage `json:"order_summary,omitempty"`
}
