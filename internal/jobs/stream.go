package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/harborintel/port-research/internal/model"
)

// HTTPStreamOpener opens research streams against the service's own HTTP
// surface, so jobs exercise the same code path as interactive callers.
type HTTPStreamOpener struct {
	client  *http.Client
	baseURL string
}

// NewHTTPStreamOpener targets the research endpoints under baseURL. The
// client must not carry its own timeout; stream deadlines are enforced by
// the SSE reader.
func NewHTTPStreamOpener(baseURL string) *HTTPStreamOpener {
	return &HTTPStreamOpener{
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

func (o *HTTPStreamOpener) OpenResearchStream(ctx context.Context, job model.ResearchJob) (io.ReadCloser, error) {
	var path string
	switch job.Type {
	case model.JobTypePort:
		path = fmt.Sprintf("/api/ports/%s/research", job.EntityID)
	case model.JobTypeTerminal:
		path = fmt.Sprintf("/api/operators/%s/research", job.EntityID)
	default:
		return nil, eris.Errorf("jobs: unknown job type %q", job.Type)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: open stream")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, eris.Errorf("jobs: research endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}
