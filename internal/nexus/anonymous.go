package nexus

import (
	"context"
	"fmt"
	"net/http"
)

// user mirrors the manager's user resource. All fields are decoded so an
// update writes back the record unchanged apart from the role set.
type user struct {
	UserID        string   `json:"userId"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	EmailAddress  string   `json:"emailAddress"`
	Source        string   `json:"source"`
	Status        string   `json:"status"`
	ReadOnly      bool     `json:"readOnly"`
	Roles         []string `json:"roles"`
	ExternalRoles []string `json:"externalRoles"`
}

// anonymousSettings is the manager's anonymous-access configuration.
type anonymousSettings struct {
	Enabled   bool   `json:"enabled"`
	UserID    string `json:"userId"`
	RealmName string `json:"realmName"`
}

// EnableAnonymousAccess turns on unauthenticated access, leaving the
// anonymous identity on the local authorizing realm.
func (c *Client) EnableAnonymousAccess(ctx context.Context) error {
	payload := anonymousSettings{
		Enabled:   true,
		UserID:    "anonymous",
		RealmName: "NexusAuthorizingRealm",
	}
	resp, err := c.doJSON(ctx, http.MethodPut, "/v1/security/anonymous", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError("enable anonymous access", "anonymous", resp)
	}
	c.logger.Info("anonymous access enabled")
	return nil
}

// SetAnonymousRoles replaces the anonymous user's role set. The rest of the
// user record is re-read first and written back unchanged.
func (c *Client) SetAnonymousRoles(ctx context.Context, roles []string) error {
	var users []user
	if err := c.getJSON(ctx, "/v1/security/users?userId=anonymous", &users); err != nil {
		return err
	}
	var anon *user
	for i := range users {
		if users[i].UserID == "anonymous" {
			anon = &users[i]
			break
		}
	}
	if anon == nil {
		return fmt.Errorf("anonymous user not found on manager")
	}
	if sameSet(anon.Roles, roles) {
		return nil
	}

	anon.Roles = roles
	resp, err := c.doJSON(ctx, http.MethodPut, "/v1/security/users/"+anon.UserID, anon)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return c.apiError("update anonymous roles", "users/anonymous", resp)
	}
	c.logger.Info("anonymous user roles updated", "roles", roles)
	return nil
}
