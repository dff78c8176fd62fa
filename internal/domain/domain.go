//go:generate go run go.uber.org/mock/mockgen -source=domain.go -destination=../mocks/mock_domain.go -package=mocks

// Package domain defines the connection handle and the events exchanged
// between the broadcast engine and the transport adapters.
package domain

import (
	"encoding/json"
	"errors"
)

// ErrDeliveryFailure is returned (wrapped) by Connection.Send when a frame
// could not be handed to the transport.
var ErrDeliveryFailure = errors.New("delivery failure")

// Connection is one live transport session. Send must not block on the
// network: it queues the events and reports ErrDeliveryFailure when the
// session can not take them. Events passed in a single call stay contiguous.
type Connection interface {
	ID() string
	Send(events ...Event) error
	Close() error
}

// Kind discriminates the Event variants.
type Kind string

const (
	KindJoin           Kind = "join"
	KindLeave          Kind = "leave"
	KindChat           Kind = "chat"
	KindRosterSnapshot Kind = "roster_snapshot"
	KindJoinAck        Kind = "join_ack"
	KindEvicted        Kind = "evicted"
)

// Event is a tagged variant; the concrete types below are the only implementations.
type Event interface {
	Kind() Kind
}

// Join announces that an identity came online.
type Join struct {
	Identity string
}

// Leave announces that an identity went offline.
type Leave struct {
	Identity string
}

// Chat is a message relayed on behalf of a joined identity. Timestamp is
// opaque client data and is relayed verbatim.
type Chat struct {
	Sender    string
	Content   string
	Timestamp json.RawMessage
}

// RosterSnapshot carries the online identities, sorted.
type RosterSnapshot struct {
	Online []string
}

// JoinAck answers a join request, to the requesting connection only.
type JoinAck struct {
	OK      bool
	Message string
	Online  []string
}

// Evicted tells a connection that another connection claimed its identity.
type Evicted struct {
	Identity string
}

func (Join) Kind() Kind           { return KindJoin }
func (Leave) Kind() Kind          { return KindLeave }
func (Chat) Kind() Kind           { return KindChat }
func (RosterSnapshot) Kind() Kind { return KindRosterSnapshot }
func (JoinAck) Kind() Kind        { return KindJoinAck }
func (Evicted) Kind() Kind        { return KindEvicted }
