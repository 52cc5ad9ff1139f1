package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/NebulousLabs/errors"
)

// httpCollaborator is a thin client over the out-of-scope archive-metadata
// service (spec.md §6): "one call, get_signed_url(dataset_id, path) ->
// string". It is the only concrete modules.MetadataCollaborator this repo
// ships; tests use the fakes in modules/registry instead. Grounded on the
// teacher's own style of a bare http.Get client call (see e.g.
// api/daemon.go's update-manifest fetch).
type httpCollaborator struct {
	baseURL string
	client  *http.Client
}

// newHTTPCollaborator builds a collaborator that issues
// "{baseURL}/signed-url?dataset=...&path=..." requests and expects a JSON
// body of the form {"url": "..."}.
func newHTTPCollaborator(baseURL string, client *http.Client) *httpCollaborator {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpCollaborator{baseURL: baseURL, client: client}
}

type signedURLResponse struct {
	URL string `json:"url"`
}

// GetSignedURL implements modules.MetadataCollaborator.
func (c *httpCollaborator) GetSignedURL(ctx context.Context, dataset, path string) (string, error) {
	q := url.Values{}
	q.Set("dataset", dataset)
	q.Set("path", path)
	reqURL := c.baseURL + "/signed-url?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", errors.AddContext(err, "building signed-url request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.AddContext(err, "contacting archive-metadata service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("archive-metadata service returned %d for dataset %q path %q", resp.StatusCode, dataset, path)
	}

	var decoded signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.AddContext(err, "decoding signed-url response")
	}
	if decoded.URL == "" {
		return "", fmt.Errorf("archive-metadata service returned an empty URL for dataset %q path %q", dataset, path)
	}
	return decoded.URL, nil
}
