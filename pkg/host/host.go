// Package host declares the capability surface the bridge consumes from the
// session server it is embedded in. The bridge depends only on these
// interfaces; the game server side implements them and owns the bridge's
// lifecycle through explicit Start/Stop calls.
package host

import (
	"context"

	"github.com/tinyland-inc/phasebridge/pkg/wire"
)

// Session is one currently connected client session.
type Session interface {
	// Name is the live player name; may be empty before the client
	// introduces itself.
	Name() string
	// IP is the session's network address.
	IP() string
	// UUID is a stable identifier for the session's client.
	UUID() string
	// Disconnect kicks the session with the given reason.
	Disconnect(reason string)
	// SendPacket delivers a wire-ready packet to the session.
	SendPacket(packet []byte)
}

// Account is a registered user account.
type Account struct {
	ID   int
	Name string
}

// Group is a permission group with its chat decoration. A nil Prefix means
// the group has no prefix segment at all, which peers render differently
// from an empty one.
type Group struct {
	Prefix *string
	Suffix string
	Color  wire.Color
}

// BanResult is the outcome reported by the ban subsystem.
type BanResult int

const (
	BanOK BanResult = iota
	BanError
)

// Server is the session server capability surface.
//
// Lookup and ban calls may go through external storage, so they take a
// context; session enumeration and per-session lookups are in-memory on the
// host side and do not.
type Server interface {
	// Sessions enumerates every currently connected session.
	Sessions() []Session
	// User resolves the account a session is logged into, or nil.
	User(s Session) *Account
	// UserGroup resolves the permission group for a session, or nil for
	// ungrouped sessions.
	UserGroup(s Session) *Group
	// UserByName resolves an account by name, or nil if none exists.
	UserByName(ctx context.Context, name string) (*Account, error)

	// BanSession bans a live session.
	BanSession(ctx context.Context, s Session, reason string, by *Account) (BanResult, error)
	// BanAccount bans an account with no live session.
	BanAccount(ctx context.Context, a *Account, reason string, by *Account) (BanResult, error)
	// BanIP bans a network address directly.
	BanIP(ctx context.Context, ip, displayName, reason string, by *Account) (BanResult, error)
}

// PacketEncoder turns a formatted chat line and a color into a wire-ready
// chat packet. Encoding may fail on lines the client protocol cannot carry.
type PacketEncoder func(text string, color wire.Color) ([]byte, error)
