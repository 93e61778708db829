package ghapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBaseURL = "https://api.github.com"

// ErrRateLimited is returned when every client rotation attempt for a
// call hit a rate-limit response. Callers wait on the pool and retry;
// it is never fatal.
var ErrRateLimited = errors.New("all clients rate limited")

// ErrNotFound is returned for 404s on expected paths; callers treat it
// as "no result here" and continue.
var ErrNotFound = errors.New("not found")

// API is the thin REST adapter over the remote code-hosting API. Every
// call selects a client from the pool for the right bucket class and
// feeds the response headers back into that client's bucket.
type API struct {
	pool    *Pool
	base    string
	perPage int
}

// NewAPI wires an adapter to a pool. perPage caps page sizes on the
// paginated endpoints.
func NewAPI(pool *Pool, perPage int) *API {
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	return &API{pool: pool, base: defaultBaseURL, perPage: perPage}
}

// SetBaseURL points the adapter at a different endpoint, for tests.
func (a *API) SetBaseURL(base string) {
	a.base = base
}

// Repo is repository metadata as returned by the API.
type Repo struct {
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	HTMLURL       string    `json:"html_url"`
	DefaultBranch string    `json:"default_branch"`
	Stars         int       `json:"stargazers_count"`
	Forks         int       `json:"forks_count"`
	Fork          bool      `json:"fork"`
	PushedAt      time.Time `json:"pushed_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// ContentEntry is one entry of a directory listing.
type ContentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size int    `json:"size"`
}

// SearchReposPage is one page of a repository search.
type SearchReposPage struct {
	TotalCount int    `json:"total_count"`
	Items      []Repo `json:"items"`
}

// CodeResult is one hit of a code search.
type CodeResult struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Repository Repo   `json:"repository"`
}

// SearchCodePage is one page of a code search.
type SearchCodePage struct {
	TotalCount int          `json:"total_count"`
	Items      []CodeResult `json:"items"`
}

// isRateLimitStatus reports whether a status code carries rate-limit
// semantics on this API. 422 shows up when search quota is exceeded.
func isRateLimitStatus(code int) bool {
	return code == http.StatusForbidden ||
		code == http.StatusTooManyRequests ||
		code == http.StatusUnprocessableEntity
}

// do performs one API call with client rotation: pick a client for the
// bucket class, issue the request, update the bucket from the response.
// Rate-limit responses mark the bucket and rotate to the next client;
// after a full rotation it gives up with ErrRateLimited.
func (a *API) do(ctx context.Context, class BucketClass, path string, query url.Values, accept string, out any) error {
	attempts := len(a.pool.Clients())
	for i := 0; i < attempts; i++ {
		c := a.pool.Select(class)

		u := a.base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if accept == "" {
			accept = "application/vnd.github+json"
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}

		a.pool.UpdateFromResponse(c, class, resp.Header)

		switch {
		case resp.StatusCode == http.StatusOK:
			defer resp.Body.Close()
			if raw, ok := out.(*[]byte); ok {
				b, err := io.ReadAll(resp.Body)
				if err != nil {
					return fmt.Errorf("GET %s: reading body: %w", path, err)
				}
				*raw = b
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("GET %s: decoding response: %w", path, err)
			}
			return nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case isRateLimitStatus(resp.StatusCode):
			resp.Body.Close()
			a.pool.MarkLimited(c, class, parseResetHeader(resp.Header))
			logrus.Debugf("client %s got %d on %s; rotating", c.Label, resp.StatusCode, path)
			continue

		default:
			resp.Body.Close()
			return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
		}
	}
	return ErrRateLimited
}

// GetRepo fetches repository metadata. Core bucket.
func (a *API) GetRepo(ctx context.Context, owner, name string) (*Repo, error) {
	var r Repo
	if err := a.do(ctx, BucketCore, "/repos/"+owner+"/"+name, nil, "", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListContents lists a directory of a repository. Core bucket.
func (a *API) ListContents(ctx context.Context, owner, repo, dir string) ([]ContentEntry, error) {
	p := "/repos/" + owner + "/" + repo + "/contents"
	if dir != "" {
		p += "/" + dir
	}
	var entries []ContentEntry
	if err := a.do(ctx, BucketCore, p, nil, "", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetFile fetches one file's raw content at a ref. Core bucket.
func (a *API) GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	var raw []byte
	err := a.do(ctx, BucketCore, "/repos/"+owner+"/"+repo+"/contents/"+path, q, "application/vnd.github.raw+json", &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// LatestCommit returns the most recent commit hash touching path (the
// whole repository when path is empty). This is the one lightweight
// call the cache-aware scan makes per repository, and the per-resource
// revision query when scoped to a skill directory. Core bucket.
func (a *API) LatestCommit(ctx context.Context, owner, repo, path string) (string, error) {
	q := url.Values{"per_page": {"1"}}
	if path != "" {
		q.Set("path", path)
	}
	var commits []struct {
		SHA string `json:"sha"`
	}
	if err := a.do(ctx, BucketCore, "/repos/"+owner+"/"+repo+"/commits", q, "", &commits); err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", ErrNotFound
	}
	return commits[0].SHA, nil
}

// SearchRepositoriesByTopic returns one page of repositories carrying a
// topic, most-starred first. Search bucket.
func (a *API) SearchRepositoriesByTopic(ctx context.Context, topic string, page int) (*SearchReposPage, error) {
	q := url.Values{
		"q":        {"topic:" + topic},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {strconv.Itoa(a.perPage)},
		"page":     {strconv.Itoa(page)},
	}
	var out SearchReposPage
	if err := a.do(ctx, BucketSearch, "/search/repositories", q, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchCode returns one page of a code search. Code-search bucket.
func (a *API) SearchCode(ctx context.Context, query string, page int) (*SearchCodePage, error) {
	q := url.Values{
		"q":        {query},
		"per_page": {strconv.Itoa(a.perPage)},
		"page":     {strconv.Itoa(page)},
	}
	var out SearchCodePage
	if err := a.do(ctx, BucketCodeSearch, "/search/code", q, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// rateLimitPayload mirrors the quota-probe response shape.
type rateLimitPayload struct {
	Resources struct {
		Core       rateLimitEntry `json:"core"`
		Search     rateLimitEntry `json:"search"`
		CodeSearch rateLimitEntry `json:"code_search"`
	} `json:"resources"`
}

type rateLimitEntry struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Used      int   `json:"used"`
	Reset     int64 `json:"reset"`
}

// Calibrate probes every client's quota endpoint once so all three
// buckets start from accurate numbers instead of optimistic defaults.
// The probe itself does not count against any quota. A probe failure
// for one client is logged and skipped; the client keeps defaults.
func (a *API) Calibrate(ctx context.Context) {
	for _, c := range a.pool.Clients() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/rate_limit", nil)
		if err != nil {
			continue
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			logrus.Warnf("quota probe failed for client %s: %v", c.Label, err)
			continue
		}
		var payload rateLimitPayload
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			logrus.Warnf("quota probe failed for client %s: status=%d err=%v", c.Label, resp.StatusCode, err)
			continue
		}

		a.pool.applyCalibration(c, BucketCore, payload.Resources.Core)
		a.pool.applyCalibration(c, BucketSearch, payload.Resources.Search)
		a.pool.applyCalibration(c, BucketCodeSearch, payload.Resources.CodeSearch)

		logrus.Infof("client %s calibrated: core %d/%d, search %d/%d, code_search %d/%d",
			c.Label,
			payload.Resources.Core.Remaining, payload.Resources.Core.Limit,
			payload.Resources.Search.Remaining, payload.Resources.Search.Limit,
			payload.Resources.CodeSearch.Remaining, payload.Resources.CodeSearch.Limit)
	}
}
