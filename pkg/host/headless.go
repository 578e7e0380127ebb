package host

import "context"

// Headless is a Server with no sessions and an inert ban subsystem. It backs
// the standalone relay binary, which joins the fabric to observe traffic and
// answer commands without a game server attached: every lookup resolves to
// nothing and every ban reports an error.
type Headless struct{}

func (Headless) Sessions() []Session      { return nil }
func (Headless) User(Session) *Account    { return nil }
func (Headless) UserGroup(Session) *Group { return nil }

func (Headless) UserByName(context.Context, string) (*Account, error) {
	return nil, nil
}

func (Headless) BanSession(context.Context, Session, string, *Account) (BanResult, error) {
	return BanError, nil
}

func (Headless) BanAccount(context.Context, *Account, string, *Account) (BanResult, error) {
	return BanError, nil
}

func (Headless) BanIP(context.Context, string, string, string, *Account) (BanResult, error) {
	return BanError, nil
}
