package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/pps"
)

// pypiSource implements pps.SourceManager over the PyPI JSON API. It is
// the concrete index client injected into the resolver; the core only
// sees the SourceManager contract.
type pypiSource struct {
	baseURL string
	client  *http.Client
}

func newPyPISource(indexURL string) *pypiSource {
	// Simple-API URLs ("https://pypi.org/simple") share a host with the
	// JSON API; strip the path and talk JSON.
	base := "https://pypi.org"
	if u, err := url.Parse(indexURL); err == nil && u.Host != "" {
		base = u.Scheme + "://" + u.Host
	}
	return &pypiSource{
		baseURL: base,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type pypiProject struct {
	Info struct {
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string][]pypiArtifact `json:"releases"`
	URLs     []pypiArtifact            `json:"urls"`
}

type pypiArtifact struct {
	Digests map[string]string `json:"digests"`
	Yanked  bool              `json:"yanked"`
}

func (s *pypiSource) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "querying %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("index returned %s for %s", resp.Status, path)
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s", path)
}

func (s *pypiSource) ListVersions(ctx context.Context, name string) ([]pps.Version, error) {
	var proj pypiProject
	if err := s.get(ctx, fmt.Sprintf("/pypi/%s/json", name), &proj); err != nil {
		return nil, err
	}

	var out []pps.Version
	for verStr, artifacts := range proj.Releases {
		if len(artifacts) == 0 {
			continue
		}
		v, err := pps.ParseVersion(verStr)
		if err != nil {
			// Pre-releases and local versions fall outside the dotted
			// numeric grammar; the resolver does not consider them.
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *pypiSource) GetDependencies(ctx context.Context, name string, v pps.Version) ([]pps.Requirement, error) {
	var proj pypiProject
	if err := s.get(ctx, fmt.Sprintf("/pypi/%s/%s/json", name, v), &proj); err != nil {
		return nil, err
	}

	var out []pps.Requirement
	for _, line := range proj.Info.RequiresDist {
		r, err := pps.FromLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency of %s %s", name, v)
		}
		// Extra-gated dependencies only apply when the extra is
		// requested; the plain resolution drops them.
		if r.Markers() != nil && r.Markers().Contains("extra") {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *pypiSource) Hashes(ctx context.Context, name string, v pps.Version) ([]string, error) {
	var proj pypiProject
	if err := s.get(ctx, fmt.Sprintf("/pypi/%s/%s/json", name, v), &proj); err != nil {
		return nil, err
	}

	var out []string
	for _, artifact := range proj.URLs {
		if artifact.Yanked {
			continue
		}
		if sum, ok := artifact.Digests["sha256"]; ok {
			out = append(out, "sha256:"+strings.ToLower(sum))
		}
	}
	return out, nil
}
