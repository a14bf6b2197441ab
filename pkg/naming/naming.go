// Package naming derives deterministic AWS resource names from a site's
// public hostname. All derived names are lowercase, dash-separated, and
// safe for S3 bucket and CloudFront resource naming rules.
package naming

import (
	"regexp"
	"strings"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9-]+`)
	multiDash = regexp.MustCompile(`-+`)
)

// maxBucketName is the S3 bucket name length limit.
const maxBucketName = 63

func sanitizePart(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "_", "-")
	value = strings.ReplaceAll(value, " ", "-")
	value = strings.ReplaceAll(value, ".", "-")
	value = nonAlnum.ReplaceAllString(value, "-")
	value = multiDash.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-")
	return value
}

// SiteSlug flattens a hostname into a dash-separated slug:
// "app.example.com" becomes "app-example-com".
func SiteSlug(hostname string) string {
	return sanitizePart(hostname)
}

// ResourceName returns a deterministic per-site resource name:
// <site-slug>-<resource>.
func ResourceName(hostname, resource string) string {
	slug := SiteSlug(hostname)
	resource = sanitizePart(resource)

	parts := []string{slug}
	if resource != "" {
		parts = append(parts, resource)
	}
	return strings.Join(parts, "-")
}

// OriginBucketName names the private bucket holding the site's assets.
func OriginBucketName(hostname string) string {
	return truncateName(ResourceName(hostname, "origin"), maxBucketName)
}

// LogBucketName names the bucket receiving storage and delivery access logs.
func LogBucketName(hostname string) string {
	return truncateName(ResourceName(hostname, "logs"), maxBucketName)
}

// OriginAccessControlName names the identity CloudFront signs origin
// requests with.
func OriginAccessControlName(hostname string) string {
	return ResourceName(hostname, "oac")
}

// RewriteFunctionName names the viewer-request function.
func RewriteFunctionName(hostname string) string {
	return ResourceName(hostname, "rewrite")
}

func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	name = name[:limit]
	return strings.Trim(name, "-")
}
