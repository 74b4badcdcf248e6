//go:generate mockgen -source=client.go -package=jobstore -destination=client_mock.go

// Package jobstore talks to the REST job-metadata store: listing job summaries per
// job type, fetching a job's detail, and patching its status.
package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
)

const (
	APIKeyHeader = "x-api-key"

	DefaultHttpTries = 5 // ~30s total of trying with exponential backoff (0 and 1 both mean 1 try total)
)

// Client is the job store as seen by the scheduler and the workers.
type Client interface {
	// List returns every summary for jobType.
	List(ctx context.Context, jobType string) ([]JobSummary, error)

	// Get decodes the detail of job id into out.
	Get(ctx context.Context, jobType, id string, out interface{}) error

	// Patch applies a partial status update to job id.
	Patch(ctx context.Context, jobType, id string, fields Patch) error
}

// Doer sends an HTTP request, retrying as it sees fit.
type Doer interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

// EndpointFunc maps a job type to its collection URL, e.g. https://api/ogv.
type EndpointFunc func(jobType string) string

func MakePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = DefaultHttpTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying after failed attempt: %+v", e)
	}
	return client
}

// NewClient returns a Client retrying through pester.
func NewClient(endpoints EndpointFunc, apiKey string) Client {
	return NewCustomClient(endpoints, apiKey, MakePesterClient())
}

func NewCustomClient(endpoints EndpointFunc, apiKey string, doer Doer) Client {
	return &httpClient{endpoints: endpoints, apiKey: apiKey, doer: doer}
}

type httpClient struct {
	endpoints EndpointFunc
	apiKey    string
	doer      Doer
}

func (c *httpClient) collection(jobType string) (string, error) {
	uri := c.endpoints(jobType)
	if uri == "" {
		return "", hpcerrors.NewJobDataError(nil, "no job store endpoint configured for %s", jobType)
	}
	return strings.TrimSuffix(uri, "/"), nil
}

func (c *httpClient) List(ctx context.Context, jobType string) ([]JobSummary, error) {
	uri, err := c.collection(jobType)
	if err != nil {
		return nil, err
	}
	var summaries []JobSummary
	if err := c.do(ctx, http.MethodGet, uri, nil, &summaries); err != nil {
		return nil, err
	}
	log.Debugf("Listed %d %s jobs from %s", len(summaries), jobType, uri)
	return summaries, nil
}

func (c *httpClient) Get(ctx context.Context, jobType, id string, out interface{}) error {
	uri, err := c.collection(jobType)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, uri+"/"+id, nil, out)
}

func (c *httpClient) Patch(ctx context.Context, jobType, id string, fields Patch) error {
	uri, err := c.collection(jobType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return hpcerrors.NewJobDataError(err, "encoding patch for %s %s", jobType, id)
	}
	log.Debugf("Patching %s/%s: %s", uri, id, body)
	return c.do(ctx, http.MethodPatch, uri+"/"+id, body, nil)
}

func (c *httpClient) do(ctx context.Context, method, uri string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return hpcerrors.NewJobDataError(err, "building %s %s", method, uri)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return hpcerrors.NewTransientUpstreamError(err, "%s %s", method, uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("%s %s: %s %s", method, uri, resp.Status, bytes.TrimSpace(msg))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return hpcerrors.NewJobDataError(statusErr, "")
		}
		return hpcerrors.NewTransientUpstreamError(statusErr, "")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return hpcerrors.NewJobDataError(err, "decoding response of %s %s", method, uri)
	}
	return nil
}
