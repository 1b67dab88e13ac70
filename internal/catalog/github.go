package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/waabox/gamedeck/internal/domain"
)

const defaultGitHubURL = "https://api.github.com"

// ReleaseSource names the repository and asset a family is released as.
type ReleaseSource struct {
	Owner string
	Repo  string
	Asset string
}

// DefaultReleaseSources lists families published as GitHub release assets.
var DefaultReleaseSources = map[domain.Family]ReleaseSource{
	domain.FamilyTModLoader: {Owner: "tModLoader", Repo: "tModLoader", Asset: "tModLoader.zip"},
}

// GitHubReleases resolves selectors to release assets. The selector is a
// tag name; empty or "latest" picks the latest release.
type GitHubReleases struct {
	token   string
	baseURL string
	sources map[domain.Family]ReleaseSource
	client  *http.Client
}

// NewGitHubReleases creates a release resolver.
// baseURL is used for testing; pass empty string to use the real GitHub API.
// token may be empty for unauthenticated requests.
func NewGitHubReleases(token, baseURL string, sources map[domain.Family]ReleaseSource) *GitHubReleases {
	if baseURL == "" {
		baseURL = defaultGitHubURL
	}
	if sources == nil {
		sources = DefaultReleaseSources
	}
	return &GitHubReleases{
		token:   token,
		baseURL: baseURL,
		sources: sources,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Resolve finds the source's asset in the selected release.
func (g *GitHubReleases) Resolve(ctx context.Context, family domain.Family, selector string) (domain.Download, error) {
	src, ok := g.sources[family]
	if !ok {
		return domain.Download{}, fmt.Errorf("no release source for %s: %w", family, domain.ErrNotFound)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.baseURL, src.Owner, src.Repo)
	if tag := normalize(selector); tag != "latest" {
		endpoint = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", g.baseURL, src.Owner, src.Repo, url.PathEscape(selector))
	}

	var rel release
	if err := g.get(ctx, endpoint, &rel); err != nil {
		return domain.Download{}, err
	}
	for _, a := range rel.Assets {
		if a.Name == src.Asset {
			return domain.Download{URL: a.BrowserDownloadURL, Version: rel.TagName, FileName: a.Name}, nil
		}
	}
	return domain.Download{}, fmt.Errorf("release %s of %s/%s has no asset %s: %w",
		rel.TagName, src.Owner, src.Repo, src.Asset, domain.ErrNotFound)
}

func (g *GitHubReleases) get(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("github release %s: %w", url, domain.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("github API error: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// release is the raw GitHub API response shape for a release.
type release struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}
