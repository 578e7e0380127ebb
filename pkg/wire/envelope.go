// Package wire defines the JSON messages exchanged over the broker fabric
// and the codec that encodes, decodes, and token-gates them.
//
// Every message body is a single UTF-8 JSON text with no routing key; routing
// happens purely through fanout exchange membership. The token field is a
// shared-secret filter, not authentication in any cryptographic sense:
// consumers drop anything carrying the wrong token and move on.
package wire

import "slices"

// Message types carried in the envelope type field.
const (
	TypeStarted         = "started"
	TypeChat            = "chat"
	TypePlayerJoin      = "player_join"
	TypePlayerLeave     = "player_leave"
	TypePlayerChat      = "player_chat"
	TypeOnlinePlayers   = "online_players"
	TypeCommand         = "command"
	TypeCommandResponse = "commandResponse"
)

// Envelope is the header embedded in every message.
type Envelope struct {
	Token              string   `json:"token"`
	Type               string   `json:"type"`
	InstanceID         string   `json:"instanceId"`
	ExcludeInstanceIDs []string `json:"excludeInstanceIds,omitempty"`
}

// Excludes reports whether the envelope's exclusion list names the given
// instance. Used for self-suppression across fanout exchanges.
func (e *Envelope) Excludes(instanceID string) bool {
	return slices.Contains(e.ExcludeInstanceIDs, instanceID)
}

// Color is an RGB triple attached to chat lines.
type Color struct {
	R uint8 `json:"R"`
	G uint8 `json:"G"`
	B uint8 `json:"B"`
}

// Chat is a cross-server chat line to be displayed to local sessions.
// A nil Prefix means the origin group has no prefix segment.
type Chat struct {
	Envelope
	OriginServer string  `json:"originServer"`
	Name         string  `json:"name"`
	Prefix       *string `json:"prefix"`
	Suffix       string  `json:"suffix"`
	Content      string  `json:"content"`
	Color
}

// PlayerEvent announces a session joining or leaving; the envelope type
// distinguishes player_join from player_leave.
type PlayerEvent struct {
	Envelope
	Name string `json:"name"`
	IP   string `json:"ip"`
	UUID string `json:"uuid"`
}

// PlayerChat is an outbound chat event from a local session, carrying the
// identity and group decoration peers need to rebuild the display line.
type PlayerChat struct {
	Envelope
	Name        string  `json:"name"`
	Prefix      *string `json:"prefix"`
	Suffix      string  `json:"suffix"`
	Message     string  `json:"message"`
	Color
	IP          string `json:"ip"`
	ID          int    `json:"id"`
	AccountName string `json:"accountName"`
	UUID        string `json:"uuid"`
}

// PlayerInfo is one roster entry in an online_players snapshot.
type PlayerInfo struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
	IP   string `json:"ip"`
}

// OnlinePlayers is the periodic full-roster snapshot. It is republished on a
// fixed cadence regardless of delta so peers can self-correct after missing
// discrete join/leave events.
type OnlinePlayers struct {
	Envelope
	Players []PlayerInfo `json:"players"`
}

// Started announces a bridge instance coming online.
type Started struct {
	Envelope
}
