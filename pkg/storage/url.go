package storage

import (
	"fmt"
	"strings"
)

const Scheme = "s3://"

// IsURL reports whether ref names an S3 object.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, Scheme)
}

// ParseURL splits s3://bucket/key into its parts.
func ParseURL(ref string) (bucket, key string, err error) {
	if !IsURL(ref) {
		return "", "", fmt.Errorf("not an s3 url: %q", ref)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url %q must have the form s3://bucket/key", ref)
	}
	return bucket, key, nil
}
