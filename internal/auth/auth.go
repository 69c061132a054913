// Package auth validates the pair of client-supplied tokens and yields the
// ValidatedClient used for the lifetime of one session. It never persists
// anything; identity lives only as long as the WebSocket connection.
package auth

import "odin-exchange/internal/model"

// ValidatedClient is the identity attached to a session after a successful
// Authenticate command. It is never written to the DB directly; the
// session's ensure-user-created step does that.
type ValidatedClient struct {
	ID    string
	Name  string
	Roles model.RoleSet
}

func (c ValidatedClient) IsAdmin() bool {
	return c.Roles.Has(model.RoleAdmin)
}

// Verifier validates an access token and an identity token and, if both
// check out and agree on subject, returns the resulting client. Any error
// is a per-attempt authentication failure, never a session fault.
type Verifier interface {
	Verify(accessToken, idToken string) (ValidatedClient, error)
}
