package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// kinds records which visitor method ran.
type kinds []Kind

func (k *kinds) VisitInitialState(InitialState)     { *k = append(*k, KindInitialState) }
func (k *kinds) VisitUserJoined(UserJoined)         { *k = append(*k, KindUserJoined) }
func (k *kinds) VisitUserLeft(UserLeft)             { *k = append(*k, KindUserLeft) }
func (k *kinds) VisitLocationUpdate(LocationUpdate) { *k = append(*k, KindLocationUpdate) }
func (k *kinds) VisitRidersUpdate(RidersUpdate)     { *k = append(*k, KindRidersUpdate) }

func TestDecode(t *testing.T) {
	t.Run("initial_state", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"initial_state","users":[
			{"session_id":"a","username":"alice","location":{"lat":1.5,"lng":2.5}},
			{"session_id":"b","username":"bob","location":null}
		]}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}

		state, ok := msg.(InitialState)
		if !ok {
			t.Fatalf("expected InitialState, got %T", msg)
		}
		if len(state.Users) != 2 {
			t.Fatalf("expected 2 users, got %d", len(state.Users))
		}
		if !state.Users[0].HasLocation() || state.Users[0].Location.Lat != 1.5 {
			t.Errorf("expected alice at 1.5, got %+v", state.Users[0].Location)
		}
		if state.Users[1].HasLocation() {
			t.Error("expected bob without location")
		}
	})

	t.Run("location_update", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"location_update","session_id":"a","username":"alice","location":{"lat":10,"lng":20,"accuracy":4}}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}

		update := msg.(LocationUpdate)
		if update.Location.Lng != 20 {
			t.Errorf("expected lng 20, got %v", update.Location.Lng)
		}
		if update.Location.Accuracy == nil || *update.Location.Accuracy != 4 {
			t.Errorf("expected accuracy 4, got %v", update.Location.Accuracy)
		}
	})

	t.Run("every kind dispatches to its visitor method", func(t *testing.T) {
		frames := []string{
			`{"type":"initial_state","users":[]}`,
			`{"type":"user_joined","session_id":"a","username":"alice"}`,
			`{"type":"user_left","session_id":"a","username":"alice"}`,
			`{"type":"location_update","session_id":"a","location":{"lat":0,"lng":0}}`,
			`{"type":"riders_update","riders":[]}`,
		}

		var got kinds
		for _, f := range frames {
			msg, err := Decode([]byte(f))
			if err != nil {
				t.Fatalf("Decode(%s) error = %v", f, err)
			}
			msg.Accept(&got)
		}

		want := []Kind{KindInitialState, KindUserJoined, KindUserLeft, KindLocationUpdate, KindRidersUpdate}
		if len(got) != len(want) {
			t.Fatalf("expected %d visits, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("visit %d = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("malformed frames", func(t *testing.T) {
		tc := []struct {
			name  string
			frame string
		}{
			{name: "not json", frame: `hello`},
			{name: "array", frame: `[1,2]`},
			{name: "missing type", frame: `{"users":[]}`},
			{name: "unknown type", frame: `{"type":"chat","text":"hi"}`},
			{name: "wrong payload shape", frame: `{"type":"initial_state","users":"nope"}`},
			{name: "location without location", frame: `{"type":"location_update","session_id":"a"}`},
			{name: "location without session", frame: `{"type":"location_update","location":{"lat":1,"lng":1}}`},
			{name: "join without session", frame: `{"type":"user_joined","username":"x"}`},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				msg, err := Decode([]byte(tt.frame))
				if err == nil {
					t.Fatalf("expected error, got %#v", msg)
				}
				if !errors.Is(err, shared.ErrMalformedMessage) {
					t.Errorf("expected ErrMalformedMessage, got %v", err)
				}
			})
		}
	})
}

func TestEncode(t *testing.T) {
	t.Run("round trips with type tag", func(t *testing.T) {
		in := LocationUpdate{SessionID: "a", Username: "alice", Location: models.Location{Lat: 1, Lng: 2}}

		data, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("encoded frame is not JSON: %v", err)
		}
		if raw["type"] != "location_update" {
			t.Errorf("expected type location_update, got %v", raw["type"])
		}

		out, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if out.(LocationUpdate) != in {
			t.Errorf("round trip mismatch: %+v vs %+v", out, in)
		}
	})

	t.Run("report carries only type and location", func(t *testing.T) {
		data, err := EncodeReport(LocationReport{Location: models.Location{Lat: 3, Lng: 4}})
		if err != nil {
			t.Fatalf("EncodeReport() error = %v", err)
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("encoded report is not JSON: %v", err)
		}
		if len(raw) != 2 {
			t.Errorf("expected exactly type and location, got %v", raw)
		}
		if raw["type"] != "location_update" {
			t.Errorf("expected type location_update, got %v", raw["type"])
		}
	})
}

func TestDecodeReport(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r, err := DecodeReport([]byte(`{"type":"location_update","location":{"lat":51.5,"lng":-0.12}}`))
		if err != nil {
			t.Fatalf("DecodeReport() error = %v", err)
		}
		if r.Location.Lat != 51.5 {
			t.Errorf("expected lat 51.5, got %v", r.Location.Lat)
		}
	})

	for name, frame := range map[string]string{
		"wrong type":   `{"type":"user_joined","location":{"lat":1,"lng":1}}`,
		"no location":  `{"type":"location_update"}`,
		"out of range": `{"type":"location_update","location":{"lat":91,"lng":1}}`,
		"garbage":      `{{`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeReport([]byte(frame)); !errors.Is(err, shared.ErrMalformedMessage) {
				t.Errorf("expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}
