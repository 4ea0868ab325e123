package backend

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

// fastHTTPDoer sends requests through a fasthttp.Client. fasthttp has no
// context plumbing of its own, so the deadline is translated to DoDeadline
// and cancellation is checked before the call.
type fastHTTPDoer struct {
	fc    *fasthttp.Client
	token string
}

func (d *fastHTTPDoer) do(ctx context.Context, method, rawurl string, body []byte) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(rawurl)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.SetBody(body)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	if err := d.fc.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, err
	}
	out := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), out, nil
}

// NewFastHTTPClient builds a Client over fasthttp. A nil fc gets a default
// client.
func NewFastHTTPClient(baseURL, token string, fc *fasthttp.Client) Client {
	if fc == nil {
		fc = &fasthttp.Client{}
	}
	return newClient(baseURL, &fastHTTPDoer{fc: fc, token: token})
}
