package slug

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Custom errors for slug generation and validation
var (
	ErrSlugExhausted = errors.New("slug generation attempts exhausted")
	ErrInvalidSlug   = errors.New("slug has invalid format")
)

const maxCollisionAttempts = 100

// Options controls how slugs are derived from a source URL.
type Options struct {
	MaxLength    int
	PathSegments int
	SuffixLength int
}

// DefaultOptions returns the options used across the sharing subsystem.
func DefaultOptions() Options {
	return Options{
		MaxLength:    100,
		PathSegments: 2,
		SuffixLength: 6,
	}
}

// Checker reports whether a slug is already taken by another record.
type Checker interface {
	SlugExists(slug string, excludeID string) (bool, error)
}

// Infrastructure subdomains that carry meaning and stay in the slug.
// Everything else collapses to the registrable part of the host.
var infraSubdomains = map[string]bool{
	"api":    true,
	"cdn":    true,
	"static": true,
	"app":    true,
	"admin":  true,
	"blog":   true,
	"shop":   true,
}

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	versionSegment = regexp.MustCompile(`^v[0-9]+$`)
	slugPattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// Path segments that add no identity to a slug.
var ignorableSegments = map[string]bool{
	"page":    true,
	"index":   true,
	"default": true,
	"home":    true,
}

// Derive builds the base slug for a record without checking uniqueness.
// A URL that cannot be parsed falls back to report-<id suffix>.
func Derive(sourceURL, recordID string, opts Options) string {
	opts = normalizeOptions(opts)

	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || parsed.Host == "" {
		return Clean(fmt.Sprintf("report-%s", idSuffix(recordID, opts.SuffixLength)), opts.MaxLength)
	}

	domain := extractDomain(parsed.Hostname())
	segments := extractSegments(parsed.Path, opts.PathSegments)

	parts := append([]string{domain}, segments...)
	parts = append(parts, idSuffix(recordID, opts.SuffixLength))

	return Clean(strings.Join(parts, "-"), opts.MaxLength)
}

// Generate derives a slug and resolves collisions against checker,
// appending -1..-100 until a free slug is found.
func Generate(sourceURL, recordID string, opts Options, checker Checker) (string, error) {
	opts = normalizeOptions(opts)
	base := Derive(sourceURL, recordID, opts)

	candidate := base
	for attempt := 0; attempt <= maxCollisionAttempts; attempt++ {
		if attempt > 0 {
			candidate = withNumericSuffix(base, attempt, opts.MaxLength)
		}

		taken, err := checker.SlugExists(candidate, recordID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", ErrSlugExhausted
}

// Validate checks the canonical slug format: non-empty, at most 100
// characters, lowercase alphanumerics and single hyphens only.
func Validate(slug string) error {
	if slug == "" || len(slug) > 100 {
		return ErrInvalidSlug
	}
	if !slugPattern.MatchString(slug) {
		return ErrInvalidSlug
	}
	if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") {
		return ErrInvalidSlug
	}
	if strings.Contains(slug, "--") {
		return ErrInvalidSlug
	}
	return nil
}

// Clean normalizes raw slug material into the canonical format.
func Clean(raw string, maxLength int) string {
	lowered := strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}

	cleaned := b.String()
	for strings.Contains(cleaned, "--") {
		cleaned = strings.ReplaceAll(cleaned, "--", "-")
	}
	cleaned = strings.Trim(cleaned, "-")

	if maxLength > 0 && len(cleaned) > maxLength {
		cleaned = strings.TrimRight(cleaned[:maxLength], "-")
	}

	return cleaned
}

func extractDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return strings.Join(labels, "-")
	}

	// api.example.com keeps its prefix; tracking.example.com does not.
	if infraSubdomains[labels[0]] {
		tail := labels[len(labels)-2:]
		return labels[0] + "-" + strings.Join(tail, "-")
	}

	return strings.Join(labels[len(labels)-2:], "-")
}

func extractSegments(path string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	segments := make([]string, 0, limit)
	for _, segment := range strings.Split(path, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if isIgnorableSegment(segment) {
			continue
		}
		segments = append(segments, segment)
		if len(segments) == limit {
			break
		}
	}

	return segments
}

func isIgnorableSegment(segment string) bool {
	lowered := strings.ToLower(segment)
	if ignorableSegments[lowered] {
		return true
	}
	return numericSegment.MatchString(lowered) || versionSegment.MatchString(lowered)
}

func idSuffix(recordID string, length int) string {
	id := strings.ReplaceAll(recordID, "-", "")
	if length <= 0 || len(id) <= length {
		return id
	}
	return id[len(id)-length:]
}

func withNumericSuffix(base string, n, maxLength int) string {
	suffix := fmt.Sprintf("-%d", n)
	if maxLength > 0 && len(base)+len(suffix) > maxLength {
		base = strings.TrimRight(base[:maxLength-len(suffix)], "-")
	}
	return base + suffix
}

func normalizeOptions(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxLength <= 0 {
		opts.MaxLength = def.MaxLength
	}
	if opts.PathSegments <= 0 {
		opts.PathSegments = def.PathSegments
	}
	if opts.SuffixLength <= 0 {
		opts.SuffixLength = def.SuffixLength
	}
	return opts
}
