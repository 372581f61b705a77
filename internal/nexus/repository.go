package nexus

import (
	"context"
	"net/http"

	"nexusallow/internal/domain"
)

// repositoryInfo is the manager's summary view of a repository.
type repositoryInfo struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Type   string `json:"type"`
	URL    string `json:"url"`
}

// proxyRepositoryPayload is the create body for a proxy repository.
type proxyRepositoryPayload struct {
	Name    string `json:"name"`
	Online  bool   `json:"online"`
	Storage struct {
		BlobStoreName               string `json:"blobStoreName"`
		StrictContentTypeValidation bool   `json:"strictContentTypeValidation"`
	} `json:"storage"`
	Proxy struct {
		RemoteURL      string `json:"remoteUrl"`
		ContentMaxAge  int    `json:"contentMaxAge"`
		MetadataMaxAge int    `json:"metadataMaxAge"`
	} `json:"proxy"`
	NegativeCache struct {
		Enabled    bool `json:"enabled"`
		TimeToLive int  `json:"timeToLive"`
	} `json:"negativeCache"`
	HTTPClient struct {
		Blocked   bool `json:"blocked"`
		AutoBlock bool `json:"autoBlock"`
	} `json:"httpClient"`
}

// ListRepositories returns the names of all repositories the manager hosts.
func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	var repos []repositoryInfo
	if err := c.getJSON(ctx, "/v1/repositories", &repos); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name)
	}
	return names, nil
}

// EnsureProxyRepository creates the ecosystem's proxy repository if absent.
// An existing repository is left untouched regardless of its settings:
// upstream URL and caching policy are operator-managed. Returns whether a
// mutating call was issued.
func (c *Client) EnsureProxyRepository(ctx context.Context, eco domain.Ecosystem) (bool, error) {
	var repos []repositoryInfo
	if err := c.getJSON(ctx, "/v1/repositories", &repos); err != nil {
		return false, err
	}
	for _, r := range repos {
		if r.Name == eco.RepoName {
			return false, nil
		}
	}

	var payload proxyRepositoryPayload
	payload.Name = eco.RepoName
	payload.Online = true
	payload.Storage.BlobStoreName = "default"
	payload.Storage.StrictContentTypeValidation = true
	payload.Proxy.RemoteURL = eco.RemoteURL
	payload.Proxy.ContentMaxAge = 1440
	payload.Proxy.MetadataMaxAge = 1440
	payload.NegativeCache.Enabled = true
	payload.NegativeCache.TimeToLive = 1440
	payload.HTTPClient.Blocked = false
	payload.HTTPClient.AutoBlock = true

	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/repositories/"+eco.Format+"/proxy", payload)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return false, c.apiError("create repository", "repositories/"+eco.RepoName, resp)
	}
	c.logger.Info("proxy repository created", "name", eco.RepoName, "format", eco.Format, "remote", eco.RemoteURL)
	return true, nil
}
