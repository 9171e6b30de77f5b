// Package protocol defines the realtime messages exchanged over the ride websocket.
//
// Server-to-client messages form a closed set: every type implements [Inbound] and accepts a [Visitor],
// so a consumer that implements Visitor is checked for exhaustiveness by the compiler.
// The client sends a single message kind, [LocationReport].
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// Kind is the value of the "type" tag on the wire.
type Kind string

const (
	KindInitialState   Kind = "initial_state"
	KindUserJoined     Kind = "user_joined"
	KindUserLeft       Kind = "user_left"
	KindLocationUpdate Kind = "location_update"
	KindRidersUpdate   Kind = "riders_update"
)

// Visitor has one method per [Inbound] message kind.
type Visitor interface {
	VisitInitialState(InitialState)
	VisitUserJoined(UserJoined)
	VisitUserLeft(UserLeft)
	VisitLocationUpdate(LocationUpdate)
	VisitRidersUpdate(RidersUpdate)
}

// Inbound is a message sent by the server. The unexported method seals the set.
type Inbound interface {
	Kind() Kind
	Accept(Visitor)
	inbound()
}

var (
	_ Inbound = InitialState{}
	_ Inbound = UserJoined{}
	_ Inbound = UserLeft{}
	_ Inbound = LocationUpdate{}
	_ Inbound = RidersUpdate{}
)

// InitialState is sent once to a newly connected client with every rider of its ride.
type InitialState struct {
	Users []models.Rider `json:"users"`
}

// UserJoined announces a rider whose socket connected.
type UserJoined struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// UserLeft announces a rider that disconnected or logged out.
type UserLeft struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// LocationUpdate relays another rider's position.
type LocationUpdate struct {
	SessionID string          `json:"session_id"`
	Username  string          `json:"username"`
	Location  models.Location `json:"location"`
}

// RidersUpdate is a full roster resync.
type RidersUpdate struct {
	Riders []models.Rider `json:"riders"`
}

func (InitialState) Kind() Kind   { return KindInitialState }
func (UserJoined) Kind() Kind     { return KindUserJoined }
func (UserLeft) Kind() Kind       { return KindUserLeft }
func (LocationUpdate) Kind() Kind { return KindLocationUpdate }
func (RidersUpdate) Kind() Kind   { return KindRidersUpdate }

func (m InitialState) Accept(v Visitor)   { v.VisitInitialState(m) }
func (m UserJoined) Accept(v Visitor)     { v.VisitUserJoined(m) }
func (m UserLeft) Accept(v Visitor)       { v.VisitUserLeft(m) }
func (m LocationUpdate) Accept(v Visitor) { v.VisitLocationUpdate(m) }
func (m RidersUpdate) Accept(v Visitor)   { v.VisitRidersUpdate(m) }

func (InitialState) inbound()   {}
func (UserJoined) inbound()     {}
func (UserLeft) inbound()       {}
func (LocationUpdate) inbound() {}
func (RidersUpdate) inbound()   {}

// LocationReport is the only client-to-server message.
type LocationReport struct {
	Location models.Location `json:"location"`
}

type envelope struct {
	Type Kind `json:"type"`
}

// Decode parses a server frame into its [Inbound] variant.
//
// Frames that are not JSON objects, lack a known type, or carry a payload of the wrong shape
// return an error wrapping [shared.ErrMalformedMessage].
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMalformedMessage, err)
	}

	var (
		msg Inbound
		err error
	)
	switch env.Type {
	case KindInitialState:
		var m InitialState
		err = json.Unmarshal(data, &m)
		msg = m
	case KindUserJoined:
		var m UserJoined
		if err = json.Unmarshal(data, &m); err == nil && m.SessionID == "" {
			err = fmt.Errorf("missing session_id")
		}
		msg = m
	case KindUserLeft:
		var m UserLeft
		if err = json.Unmarshal(data, &m); err == nil && m.SessionID == "" {
			err = fmt.Errorf("missing session_id")
		}
		msg = m
	case KindLocationUpdate:
		var m struct {
			SessionID string           `json:"session_id"`
			Username  string           `json:"username"`
			Location  *models.Location `json:"location"`
		}
		if err = json.Unmarshal(data, &m); err == nil {
			switch {
			case m.SessionID == "":
				err = fmt.Errorf("missing session_id")
			case m.Location == nil:
				err = fmt.Errorf("missing location")
			}
		}
		if err == nil {
			msg = LocationUpdate{SessionID: m.SessionID, Username: m.Username, Location: *m.Location}
		}
	case KindRidersUpdate:
		var m RidersUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	case "":
		err = fmt.Errorf("missing type")
	default:
		err = fmt.Errorf("unknown type %q", env.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrMalformedMessage, env.Type, err)
	}
	return msg, nil
}

// Encode serializes an [Inbound] message with its type tag.
func Encode(msg Inbound) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return tag(msg.Kind(), body)
}

// EncodeReport serializes a client location report.
func EncodeReport(r LocationReport) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return tag(KindLocationUpdate, body)
}

// DecodeReport parses a client frame. Only location_update is accepted.
func DecodeReport(data []byte) (LocationReport, error) {
	var m struct {
		Type     Kind             `json:"type"`
		Location *models.Location `json:"location"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return LocationReport{}, fmt.Errorf("%w: %v", shared.ErrMalformedMessage, err)
	}
	if m.Type != KindLocationUpdate {
		return LocationReport{}, fmt.Errorf("%w: unexpected type %q", shared.ErrMalformedMessage, m.Type)
	}
	if m.Location == nil || !m.Location.Valid() {
		return LocationReport{}, fmt.Errorf("%w: invalid location", shared.ErrMalformedMessage)
	}
	return LocationReport{Location: *m.Location}, nil
}

// tag prepends "type" to a marshalled JSON object.
func tag(kind Kind, body []byte) ([]byte, error) {
	head, err := json.Marshal(envelope{Type: kind})
	if err != nil {
		return nil, err
	}
	if len(body) <= 2 {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}
