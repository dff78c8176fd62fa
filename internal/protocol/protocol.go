// Package protocol is the canonical wire schema: JSON objects discriminated
// by a "type" field.
//
// Client to server:
//
//	{"type":"join","username":"alice"}
//	{"type":"message","message":"hi","timestamp":1}
//
// Server to client:
//
//	{"type":"join_ack","status":"success","online_users":["alice"]}
//	{"type":"join_ack","status":"error","message":"Username is required"}
//	{"type":"user_joined","username":"alice"}
//	{"type":"user_left","username":"bob"}
//	{"type":"online_users","online_users":["alice"]}
//	{"type":"message","username":"alice","message":"hi","timestamp":1}
//	{"type":"evicted","username":"alice"}
//
// Inbound "username" and "message" must be JSON strings; any other value is
// a decode failure and closes the connection. "timestamp" may be any JSON
// value and is relayed verbatim.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/presence-relay/internal/domain"
)

// Type is the value of the "type" discriminator.
type Type string

const (
	TypeJoin        Type = "join"
	TypeMessage     Type = "message"
	TypeJoinAck     Type = "join_ack"
	TypeUserJoined  Type = "user_joined"
	TypeUserLeft    Type = "user_left"
	TypeOnlineUsers Type = "online_users"
	TypeEvicted     Type = "evicted"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// ErrDecodeFailure wraps every inbound frame that can not be used.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrUnknownType marks a frame whose type is missing or not accepted.
	ErrUnknownType = errors.New("unknown frame type")
)

// Command is a decoded client frame.
type Command struct {
	Type      Type            `json:"type"`
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Decode parses one inbound frame. Only join and message frames are accepted.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(bytes.TrimSpace(data), &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	switch cmd.Type {
	case TypeJoin, TypeMessage:
	default:
		return Command{}, fmt.Errorf("%w: %w %q", ErrDecodeFailure, ErrUnknownType, cmd.Type)
	}

	if bytes.Equal(cmd.Timestamp, []byte("null")) {
		cmd.Timestamp = nil
	}
	return cmd, nil
}

type userFrame struct {
	Type     Type   `json:"type"`
	Username string `json:"username"`
}

type rosterFrame struct {
	Type        Type     `json:"type"`
	OnlineUsers []string `json:"online_users"`
}

type chatFrame struct {
	Type      Type            `json:"type"`
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type ackFrame struct {
	Type        Type     `json:"type"`
	Status      string   `json:"status"`
	OnlineUsers []string `json:"online_users,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Encode renders one outbound event.
func Encode(evt domain.Event) ([]byte, error) {
	switch e := evt.(type) {
	case domain.Join:
		return json.Marshal(userFrame{Type: TypeUserJoined, Username: e.Identity})
	case domain.Leave:
		return json.Marshal(userFrame{Type: TypeUserLeft, Username: e.Identity})
	case domain.Evicted:
		return json.Marshal(userFrame{Type: TypeEvicted, Username: e.Identity})
	case domain.RosterSnapshot:
		return json.Marshal(rosterFrame{Type: TypeOnlineUsers, OnlineUsers: nonNil(e.Online)})
	case domain.Chat:
		ts := e.Timestamp
		if len(ts) == 0 {
			ts = json.RawMessage("null")
		}
		return json.Marshal(chatFrame{Type: TypeMessage, Username: e.Sender, Message: e.Content, Timestamp: ts})
	case domain.JoinAck:
		if !e.OK {
			return json.Marshal(ackFrame{Type: TypeJoinAck, Status: StatusError, Message: e.Message})
		}
		return json.Marshal(ackFrame{Type: TypeJoinAck, Status: StatusSuccess, OnlineUsers: e.Online})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, evt)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
