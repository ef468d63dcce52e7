package testutil

import (
	"context"
	"net/http"
	"time"

	"registrar/pkg/requestcontext"
)

// Context returns a context carrying a fixed request time and correlation
// ID, as the request middleware would set them.
func Context(now time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), now)
	return requestcontext.WithRequestID(ctx, "test-request")
}

// WithUserAgent sets the header the link-preview filter inspects.
func WithUserAgent(req *http.Request, ua string) *http.Request {
	req.Header.Set("User-Agent", ua)
	return req
}

// WithBasicAuth attaches admin credentials.
func WithBasicAuth(req *http.Request, username, password string) *http.Request {
	req.SetBasicAuth(username, password)
	return req
}
