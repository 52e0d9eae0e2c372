package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var resultIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// Location is an object store URL such as s3://bucket/athena-results/.
type Location struct {
	Bucket string
	Prefix string
}

func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("location is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case "s3", "s3a":
	default:
		return Location{}, fmt.Errorf("unsupported location scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return Location{}, fmt.Errorf("location %q has no bucket", raw)
	}
	prefix := strings.Trim(parsed.Path, "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
		if strings.HasPrefix(prefix, "..") || strings.Contains(prefix, "/../") {
			return Location{}, fmt.Errorf("invalid location prefix %q", prefix)
		}
	}
	return Location{Bucket: parsed.Host, Prefix: prefix}, nil
}

func (l Location) Key(name string) string {
	if l.Prefix == "" {
		return name
	}
	return path.Join(l.Prefix, name)
}

func (l Location) String() string {
	if l.Prefix == "" {
		return "s3://" + l.Bucket + "/"
	}
	return "s3://" + l.Bucket + "/" + l.Prefix + "/"
}

// ResultObjectKey returns the key of the CSV result file a query engine writes
// for queryID under loc.
func ResultObjectKey(loc Location, queryID string) (string, error) {
	if err := validateResultID(queryID); err != nil {
		return "", err
	}
	return loc.Key(queryID + ".csv"), nil
}

func ResultMetadataKey(loc Location, queryID string) (string, error) {
	if err := validateResultID(queryID); err != nil {
		return "", err
	}
	return loc.Key(queryID + ".csv.metadata"), nil
}

func validateResultID(value string) error {
	if !resultIDPattern.MatchString(value) {
		return fmt.Errorf("invalid query id: %q", value)
	}
	return nil
}
