package githubauth

import (
	"fmt"
	"io"
	"mime"
	"net/http"
)

// jsonTransport asks GitHub for JSON and refuses successful responses that
// are not JSON (GitHub answers form-encoded bodies without the header).
type jsonTransport struct {
	base http.RoundTripper
}

func (t *jsonTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content type %q from %s", ErrNotJSON, mediaType, req.URL.Path)
	}
	return resp, nil
}
