package objstore

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

const (
	SchemeS3  = "s3"
	SchemeGCS = "gs"
)

// Location is a parsed object-storage URI.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// String renders the location back into scheme://bucket/key form.
func (l Location) String() string {
	if l.Key == "" {
		return fmt.Sprintf("%s://%s", l.Scheme, l.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
}

// Parse splits an object-storage URI into scheme, bucket and key. Besides the
// plain s3://bucket/key form it accepts s3://s3-<region>.amazonaws.com[:port]/bucket/key.
func Parse(uri string) (Location, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || rest == "" {
		return Location{}, fmt.Errorf("%q is not an object storage URI", uri)
	}
	switch scheme {
	case SchemeS3:
		if strings.HasPrefix(rest, "s3-") || strings.HasPrefix(rest, "s3.") {
			_, remaining, found := strings.Cut(rest, "/")
			if !found || remaining == "" {
				return Location{}, fmt.Errorf("invalid S3 path format: %s", uri)
			}
			rest = remaining
		}
	case SchemeGCS:
	default:
		return Location{}, fmt.Errorf("unsupported object storage scheme %q in %s", scheme, uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("missing bucket in %s", uri)
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

var (
	s3PathStyle    = regexp.MustCompile(`^https?://s3\.amazonaws\.com/([^/]+)/(.*)$`)
	s3VirtualStyle = regexp.MustCompile(`^https?://([^.]+)\.s3\.amazonaws\.com/(.*)$`)
)

// NormalizeS3HTTP converts an HTTP(S) S3 link into an s3:// URI. Links that
// are not S3 links are returned unchanged.
func NormalizeS3HTTP(link string) string {
	if m := s3PathStyle.FindStringSubmatch(link); m != nil {
		return fmt.Sprintf("s3://%s/%s", m[1], m[2])
	}
	if m := s3VirtualStyle.FindStringSubmatch(link); m != nil {
		return fmt.Sprintf("s3://%s/%s", m[1], m[2])
	}
	return link
}

// Base returns the last path element of a URI, ignoring a trailing slash.
func Base(uri string) string {
	return path.Base(strings.TrimSuffix(uri, "/"))
}

// WithSuffix keeps the object URIs ending in suffix, sorted and de-duplicated.
func WithSuffix(objects []string, suffix string) []string {
	seen := make(map[string]struct{})
	for _, obj := range objects {
		if strings.HasSuffix(obj, suffix) {
			seen[obj] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// DirsWithSuffix returns the outermost "directories" containing the given
// objects whose name ends in suffix. Zarr stores are directories, so their
// URIs are found this way rather than by object name.
func DirsWithSuffix(objects []string, suffix string) []string {
	seen := make(map[string]struct{})
	marker := suffix + "/"
	for _, obj := range objects {
		if i := strings.Index(obj, marker); i >= 0 {
			seen[obj[:i+len(suffix)]] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
