// Package bus implements the durable message bus and agent registry shared by
// the whole swarm. Every agent, the supervisor, and the decision engine talk
// to each other exclusively through rows in swarm.db; this package owns those
// tables and the repositories over them.
package bus

import "time"

// MessageType classifies the intent of a bus message.
type MessageType string

const (
	TypeIntel     MessageType = "intel"
	TypeAlert     MessageType = "alert"
	TypeReport    MessageType = "report"
	TypeRequest   MessageType = "request"
	TypeCommand   MessageType = "command"
	TypeStatus    MessageType = "status"
	TypeHeartbeat MessageType = "heartbeat"
)

// Valid reports whether the message type is one of the known values.
func (t MessageType) Valid() bool {
	switch t {
	case TypeIntel, TypeAlert, TypeReport, TypeRequest, TypeCommand, TypeStatus, TypeHeartbeat:
		return true
	}
	return false
}

// Priority orders message delivery. Critical messages are always delivered
// before high, high before medium, medium before low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the delivery rank for the priority. Lower ranks are delivered
// first; unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Message is one durable bus record. Payload is a schemaless map persisted as
// JSON; the schema is a by-convention contract between sender and handler and
// is decoded into typed variants at the handler boundary (see payload.go).
type Message struct {
	ID             string
	From           string
	To             string
	Type           MessageType
	Priority       Priority
	Payload        map[string]interface{}
	Acknowledged   bool
	AcknowledgedAt *time.Time
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

// Expired reports whether the message's TTL has passed at the given instant.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// HeartbeatStatus is the lifecycle state an agent reports about itself.
// Task-level labels such as "analyzing" or "scanning" ride in CurrentTask,
// not here.
type HeartbeatStatus string

const (
	StatusAlive    HeartbeatStatus = "alive"
	StatusDegraded HeartbeatStatus = "degraded"
	StatusDead     HeartbeatStatus = "dead"
	StatusDisabled HeartbeatStatus = "disabled"
)

// Valid reports whether the status is one of the known values.
func (s HeartbeatStatus) Valid() bool {
	switch s {
	case StatusAlive, StatusDegraded, StatusDead, StatusDisabled:
		return true
	}
	return false
}

// Heartbeat is the single liveness row each agent maintains.
type Heartbeat struct {
	Name        string
	Status      HeartbeatStatus
	CurrentTask string
	LastBeat    time.Time
}

// AgentRegistration records an agent's identity and enablement, upserted on
// every (re)start.
type AgentRegistration struct {
	Name      string
	Type      string
	Enabled   bool
	Config    map[string]interface{}
	UpdatedAt time.Time
}

// Stats is an aggregate snapshot of the bus, served by the admin API.
type Stats struct {
	Pending      int            `json:"pending"`
	Acknowledged int            `json:"acknowledged"`
	Expired      int            `json:"expired"`
	PerAgent     map[string]int `json:"per_agent"`
}
