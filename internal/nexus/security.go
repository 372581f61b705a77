package nexus

import (
	"context"
	"net/http"
	"sort"

	"nexusallow/internal/domain"
)

// contentSelector mirrors the manager's content-selector resource.
type contentSelector struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Expression  string `json:"expression"`
}

// selectorPrivilege mirrors the repository-content-selector privilege.
type selectorPrivilege struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Actions         []string `json:"actions"`
	Format          string   `json:"format"`
	Repository      string   `json:"repository"`
	ContentSelector string   `json:"contentSelector"`
	Type            string   `json:"type,omitempty"`
}

// role mirrors the manager's role resource.
type role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Privileges  []string `json:"privileges"`
	Roles       []string `json:"roles"`
}

// EnsureContentSelector creates the named selector, or updates its stored
// expression when it differs from the desired one. Identical expression
// means zero mutating calls.
func (c *Client) EnsureContentSelector(ctx context.Context, name, description, expression string) (bool, error) {
	var selectors []contentSelector
	if err := c.getJSON(ctx, "/v1/security/content-selectors", &selectors); err != nil {
		return false, err
	}

	desired := contentSelector{Name: name, Description: description, Expression: expression}
	for _, s := range selectors {
		if s.Name != name {
			continue
		}
		if s.Expression == expression {
			return false, nil
		}
		resp, err := c.doJSON(ctx, http.MethodPut, "/v1/security/content-selectors/"+name, desired)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return false, c.apiError("update content selector", "content-selectors/"+name, resp)
		}
		c.logger.Info("content selector updated", "name", name)
		return true, nil
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/security/content-selectors", desired)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		return false, c.apiError("create content selector", "content-selectors/"+name, resp)
	}
	c.logger.Info("content selector created", "name", name)
	return true, nil
}

// EnsureContentSelectorPrivilege creates or rebinds the READ privilege
// linking selector to the ecosystem's repository.
func (c *Client) EnsureContentSelectorPrivilege(ctx context.Context, name, description string, eco domain.Ecosystem, selector string) (bool, error) {
	var privileges []selectorPrivilege
	if err := c.getJSON(ctx, "/v1/security/privileges", &privileges); err != nil {
		return false, err
	}

	desired := selectorPrivilege{
		Name:            name,
		Description:     description,
		Actions:         []string{"READ"},
		Format:          eco.Format,
		Repository:      eco.RepoName,
		ContentSelector: selector,
	}
	for _, p := range privileges {
		if p.Name != name {
			continue
		}
		if p.Repository == desired.Repository && p.ContentSelector == desired.ContentSelector && sameSet(p.Actions, desired.Actions) {
			return false, nil
		}
		resp, err := c.doJSON(ctx, http.MethodPut, "/v1/security/privileges/repository-content-selector/"+name, desired)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return false, c.apiError("update privilege", "privileges/"+name, resp)
		}
		c.logger.Info("content selector privilege updated", "name", name)
		return true, nil
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/security/privileges/repository-content-selector", desired)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return false, c.apiError("create privilege", "privileges/"+name, resp)
	}
	c.logger.Info("content selector privilege created", "name", name, "repository", eco.RepoName)
	return true, nil
}

// EnsureRole creates the role with the given privilege set, or replaces the
// set when the live one differs. Comparison is order-insensitive.
func (c *Client) EnsureRole(ctx context.Context, id, name, description string, privileges []string) (bool, error) {
	current, found, err := c.getRole(ctx, id)
	if err != nil {
		return false, err
	}

	desired := role{ID: id, Name: name, Description: description, Privileges: privileges, Roles: []string{}}
	if !found {
		resp, err := c.doJSON(ctx, http.MethodPost, "/v1/security/roles", desired)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false, c.apiError("create role", "roles/"+id, resp)
		}
		c.logger.Info("role created", "id", id, "privileges", len(privileges))
		return true, nil
	}

	if sameSet(current.Privileges, privileges) {
		return false, nil
	}
	return true, c.putRole(ctx, desired)
}

// GrantRolePrivileges adds privileges to an existing role, keeping whatever
// the role already carries. No write happens when everything is already
// granted.
func (c *Client) GrantRolePrivileges(ctx context.Context, id string, privileges []string) (bool, error) {
	current, found, err := c.getRole(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, &domain.ValidationError{
			Resource:   "roles/" + id,
			StatusCode: http.StatusNotFound,
			Body:       "role does not exist",
		}
	}

	have := make(map[string]struct{}, len(current.Privileges))
	for _, p := range current.Privileges {
		have[p] = struct{}{}
	}
	grew := false
	for _, p := range privileges {
		if _, ok := have[p]; !ok {
			have[p] = struct{}{}
			grew = true
		}
	}
	if !grew {
		return false, nil
	}

	merged := make([]string, 0, len(have))
	for p := range have {
		merged = append(merged, p)
	}
	sort.Strings(merged)
	current.Privileges = merged
	return true, c.putRole(ctx, current)
}

func (c *Client) getRole(ctx context.Context, id string) (role, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/security/roles/"+id, "", nil)
	if err != nil {
		return role{}, false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		var r role
		if err := decodeBody(resp, &r); err != nil {
			return role{}, false, err
		}
		return r, true, nil
	case http.StatusNotFound:
		return role{}, false, nil
	default:
		return role{}, false, c.apiError("get role", "roles/"+id, resp)
	}
}

func (c *Client) putRole(ctx context.Context, r role) error {
	if r.Roles == nil {
		r.Roles = []string{}
	}
	resp, err := c.doJSON(ctx, http.MethodPut, "/v1/security/roles/"+r.ID, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return c.apiError("update role", "roles/"+r.ID, resp)
	}
	c.logger.Info("role updated", "id", r.ID, "privileges", len(r.Privileges))
	return nil
}

// sameSet compares two privilege lists ignoring order and duplicates.
func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, s := range a {
		as[s] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, s := range b {
		bs[s] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for s := range as {
		if _, ok := bs[s]; !ok {
			return false
		}
	}
	return true
}
