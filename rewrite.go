package sitetheory

import "strings"

// ViewerRequest is the slice of an inbound CDN request the rewrite rule
// operates on.
type ViewerRequest struct {
	Method string
	URI    string
}

// RewriteURI maps a viewer-request path to the object the origin should
// serve. Paths whose last segment looks like a filename (contains a dot)
// pass through unchanged; everything else is a client-side route and is
// collapsed to the application entry point at "/".
//
// The heuristic is intentionally simple and is applied before cache-key
// computation, so all route paths share one cached entry-point response.
// Known limitation: a route whose last segment contains a dot for
// non-extension reasons (such as /v1.2) is treated as a file request and
// passed through to the origin unchanged.
func RewriteURI(uri string) string {
	segments := strings.Split(uri, "/")
	last := segments[len(segments)-1]
	if len(strings.Split(last, ".")) >= 2 {
		return uri
	}
	return "/"
}

// Rewrite applies RewriteURI to the request and returns the result. It is
// pure: the input value is not mutated.
func Rewrite(req ViewerRequest) ViewerRequest {
	req.URI = RewriteURI(req.URI)
	return req
}

// FunctionCode returns the CloudFront Functions (cloudfront-js-2.0) source
// implementing the same rewrite rule that RewriteURI implements in Go. The
// two must stay behavior-identical.
func FunctionCode() string {
	return rewriteFunctionJS
}

const rewriteFunctionJS = `function handler(event) {
    var request = event.request;
    var segments = request.uri.split('/');
    var last = segments[segments.length - 1];
    if (last.split('.').length >= 2) {
        return request;
    }
    request.uri = '/';
    return request;
}
`
