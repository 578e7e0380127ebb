package wire

import "fmt"

// Command names accepted over the wire.
const (
	CommandKick = "kick"
	CommandMute = "mute"
	CommandBan  = "ban"
)

// Target selectors: which identity field of a command is authoritative.
const (
	SelectPlayerName  = "playerName"
	SelectAccountName = "accountName"
	SelectPlayerIP    = "playerIP"
)

// Command is a moderation command issued by the control plane. It is a tagged
// union over CommandName; the matching *Type selector determines which target
// fields are populated and must be read.
type Command struct {
	Envelope
	CommandName     string `json:"commandName"`
	Sender          string `json:"sender"`
	DiscussionID    int64  `json:"discussionId"`
	CommandUserName string `json:"commandUserName"`

	KickType string `json:"kickType,omitempty"`
	MuteType string `json:"muteType,omitempty"`
	BanType  string `json:"banType,omitempty"`

	PlayerName  string `json:"playerName,omitempty"`
	AccountName string `json:"accountName,omitempty"`
	PlayerIP    string `json:"playerIP,omitempty"`

	Reason  string `json:"reason,omitempty"`
	Remove  bool   `json:"remove,omitempty"`
	Offline bool   `json:"offline,omitempty"`
}

// Selector returns the target selector tag for the command's variant.
// Ambiguous or unknown selectors are rejected so untagged commands never
// reach target resolution.
func (c *Command) Selector() (string, error) {
	var sel string
	switch c.CommandName {
	case CommandKick:
		sel = c.KickType
	case CommandMute:
		sel = c.MuteType
	case CommandBan:
		sel = c.BanType
	default:
		return "", fmt.Errorf("unknown command %q", c.CommandName)
	}

	switch sel {
	case SelectPlayerName, SelectAccountName, SelectPlayerIP:
		return sel, nil
	default:
		return "", fmt.Errorf("unknown %s selector %q", c.CommandName, sel)
	}
}

// Response states.
const (
	StateSuccess = "success"
	StateFailure = "failure"
)

// CommandResponse reports the outcome of one command. Exactly one response is
// published per accepted command, echoing the sender and discussion id so the
// control plane can correlate it.
type CommandResponse struct {
	Type            string `json:"type"`
	InstanceID      string `json:"instanceId"`
	Sender          string `json:"sender"`
	DiscussionID    int64  `json:"discussionId"`
	State           string `json:"state"`
	ResponseMessage string `json:"responseMessage"`
}

// SuccessResponse builds a success response correlated to cmd.
func SuccessResponse(cmd *Command, instanceID, message string) CommandResponse {
	return CommandResponse{
		Type:            TypeCommandResponse,
		InstanceID:      instanceID,
		Sender:          cmd.Sender,
		DiscussionID:    cmd.DiscussionID,
		State:           StateSuccess,
		ResponseMessage: message,
	}
}

// FailureResponse builds a failure response correlated to cmd.
func FailureResponse(cmd *Command, instanceID, message string) CommandResponse {
	return CommandResponse{
		Type:            TypeCommandResponse,
		InstanceID:      instanceID,
		Sender:          cmd.Sender,
		DiscussionID:    cmd.DiscussionID,
		State:           StateFailure,
		ResponseMessage: message,
	}
}
