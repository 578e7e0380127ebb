package bridge

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/phasebridge/pkg/host"
	"github.com/tinyland-inc/phasebridge/pkg/logger"
	"github.com/tinyland-inc/phasebridge/pkg/wire"
)

// handleCommand runs the command state machine for one inbound command and
// publishes exactly one response, whatever the outcome.
func (b *Bridge) handleCommand(ctx context.Context, body []byte) {
	cmd, err := b.codec.DecodeCommand(body)
	if err != nil {
		logger.WarnCF("bridge", "Discarding malformed command", map[string]any{"error": err.Error()})
		return
	}

	resp := b.resolveCommand(ctx, cmd)
	b.publish(ctx, resp)
	logger.InfoCF("bridge", "Command resolved", map[string]any{
		"command": cmd.CommandName,
		"sender":  cmd.Sender,
		"state":   resp.State,
	})
}

func (b *Bridge) resolveCommand(ctx context.Context, cmd *wire.Command) wire.CommandResponse {
	switch cmd.CommandName {
	case wire.CommandKick:
		return b.resolveKick(cmd)
	case wire.CommandMute:
		// permanent capability gap at this layer, not a bug
		return wire.FailureResponse(cmd, b.instanceID, "Muting is not supported on this dimension.")
	case wire.CommandBan:
		return b.resolveBan(ctx, cmd)
	default:
		return wire.FailureResponse(cmd, b.instanceID, "Could not determine command")
	}
}

func (b *Bridge) resolveKick(cmd *wire.Command) wire.CommandResponse {
	sel, err := cmd.Selector()
	if err != nil {
		return wire.FailureResponse(cmd, b.instanceID, "Could not determine command")
	}

	var target host.Session
	var name string
	switch sel {
	case wire.SelectPlayerName:
		name = cmd.PlayerName
		target = b.findByName(name)
	case wire.SelectAccountName:
		name = cmd.AccountName
		target = b.findByAccount(name)
	}

	if target == nil {
		return wire.FailureResponse(cmd, b.instanceID, fmt.Sprintf("No such player %q.", name))
	}
	target.Disconnect(cmd.Reason)
	return wire.SuccessResponse(cmd, b.instanceID, fmt.Sprintf("Successfully kicked player %q.", name))
}

func (b *Bridge) resolveBan(ctx context.Context, cmd *wire.Command) wire.CommandResponse {
	sel, err := cmd.Selector()
	if err != nil {
		return wire.FailureResponse(cmd, b.instanceID, "Could not determine command")
	}

	name := cmd.PlayerName
	if sel == wire.SelectAccountName {
		name = cmd.AccountName
	}

	var live host.Session
	switch sel {
	case wire.SelectPlayerName:
		live = b.findByName(cmd.PlayerName)
	case wire.SelectAccountName:
		live = b.findByAccount(cmd.AccountName)
	case wire.SelectPlayerIP:
		live = b.findByAccountAndIP(cmd.PlayerName, cmd.PlayerIP)
	}

	banner, err := b.srv.UserByName(ctx, cmd.CommandUserName)
	if err != nil {
		logger.WarnCF("bridge", "Banning user lookup failed", map[string]any{
			"user":  cmd.CommandUserName,
			"error": err.Error(),
		})
	}

	switch {
	case live != nil:
		result, err := b.srv.BanSession(ctx, live, cmd.Reason, banner)
		if err != nil || result != host.BanOK {
			return wire.FailureResponse(cmd, b.instanceID,
				fmt.Sprintf("Encountered an error trying to ban player %q", name))
		}
		return wire.SuccessResponse(cmd, b.instanceID,
			fmt.Sprintf("Successfully banned player %q", name))

	case cmd.Offline && (sel == wire.SelectPlayerName || sel == wire.SelectAccountName):
		acct, err := b.srv.UserByName(ctx, name)
		if err != nil {
			logger.WarnCF("bridge", "Account lookup failed", map[string]any{
				"account": name,
				"error":   err.Error(),
			})
		}
		if acct == nil {
			return wire.FailureResponse(cmd, b.instanceID,
				fmt.Sprintf("Could not find user account %q to ban.", name))
		}
		result, err := b.srv.BanAccount(ctx, acct, cmd.Reason, banner)
		if err != nil || result != host.BanOK {
			return wire.FailureResponse(cmd, b.instanceID,
				fmt.Sprintf("Encountered an error trying to ban user account %q", name))
		}
		return wire.SuccessResponse(cmd, b.instanceID,
			fmt.Sprintf("Successfully banned user account %q", name))

	case cmd.Offline && sel == wire.SelectPlayerIP:
		result, err := b.srv.BanIP(ctx, cmd.PlayerIP, name, cmd.Reason, banner)
		if err != nil || result != host.BanOK {
			return wire.FailureResponse(cmd, b.instanceID,
				fmt.Sprintf("Encountered an error trying to ban ip %q", cmd.PlayerIP))
		}
		return wire.SuccessResponse(cmd, b.instanceID,
			fmt.Sprintf("Successfully banned ip %q", cmd.PlayerIP))

	default:
		return wire.FailureResponse(cmd, b.instanceID,
			"Couldn't find player to ban. Trying using -o to specify an offline ban.")
	}
}

// findByName resolves a live session by exact player name.
func (b *Bridge) findByName(name string) host.Session {
	for _, s := range b.srv.Sessions() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// findByAccount resolves a live session by the account it is logged into.
func (b *Bridge) findByAccount(accountName string) host.Session {
	for _, s := range b.srv.Sessions() {
		if acct := b.srv.User(s); acct != nil && acct.Name == accountName {
			return s
		}
	}
	return nil
}

// findByAccountAndIP resolves a live session matching both the account name
// and the network address.
func (b *Bridge) findByAccountAndIP(accountName, ip string) host.Session {
	for _, s := range b.srv.Sessions() {
		if acct := b.srv.User(s); acct != nil && acct.Name == accountName && s.IP() == ip {
			return s
		}
	}
	return nil
}
