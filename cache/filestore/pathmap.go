package filestore

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultPrivateParams is the case-insensitive list of query parameters
// stripped from a URL before it contributes to the cache path, so
// per-client credentials never leak into on-disk names. Callers may
// extend this list through NewPathMapper(extraPrivateParams...).
var DefaultPrivateParams = []string{"CONNECTID"}

var illegalChars = regexp.MustCompile(`[^A-Za-z0-9._=&-]`)

// PathMapper turns a remote resource URL into the relative path under
// which FileStore caches it on disk. MakeCachePath is a pure function
// of the URL (after private-parameter stripping) and the content type,
// so a store produced by one process is readable by another.
type PathMapper struct {
	privateParams map[string]bool
}

// NewPathMapper returns a PathMapper that strips DefaultPrivateParams
// plus any caller-supplied additions.
func NewPathMapper(extraPrivateParams ...string) *PathMapper {
	set := make(map[string]bool, len(DefaultPrivateParams)+len(extraPrivateParams))
	for _, p := range DefaultPrivateParams {
		set[strings.ToLower(p)] = true
	}
	for _, p := range extraPrivateParams {
		set[strings.ToLower(p)] = true
	}
	return &PathMapper{privateParams: set}
}

// MakeCachePath computes the store-relative path for rawURL, given the
// content type reported for it (used only when the URL itself carries no
// file suffix). It never touches the filesystem.
func (m *PathMapper) MakeCachePath(rawURL, contentType string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("filestore: invalid URL %q: %w", rawURL, err)
	}

	if u.Scheme == "jar" {
		return m.jarCachePath(rawURL), nil
	}

	return m.genericCachePath(u, contentType), nil
}

// jarCachePath maps a jar: URL to host/innerPath, with the "!/"
// separator replaced by "#". The mapping exists so jar-addressed
// resources cache under a stable name; nothing else in this module
// interprets the archive itself.
func (m *PathMapper) jarCachePath(rawURL string) string {
	rest := strings.TrimPrefix(rawURL, "jar:")

	// The enclosing archive's URL contributes its host (if parseable) the
	// way a plain URL would; its path, up to and past "!/", is innerPath.
	host, innerPath := "", rest
	if inner, err := url.Parse(rest); err == nil && inner.Path != "" {
		host, innerPath = inner.Host, inner.Path
	}

	// Illegal characters are replaced piecewise so the "#" separator
	// survives sanitizing.
	parts := strings.Split(strings.ReplaceAll(innerPath, "!/", "#"), "#")
	for i, p := range parts {
		parts[i] = illegalChars.ReplaceAllString(p, "_")
	}
	return path.Join(host, strings.Join(parts, "#"))
}

func (m *PathMapper) genericCachePath(u *url.URL, contentType string) string {
	filenameKey := u.Path
	if q := m.stripPrivateParams(u.RawQuery); q != "" {
		filenameKey = filenameKey + "_" + q
	}

	hashBucket := fmt.Sprintf("%04d", absHash(filenameKey)%10000)

	suffix := path.Ext(u.Path)
	if suffix == "" {
		suffix = suffixForContentType(contentType)
	}
	suffix = normalizeSuffix(suffix)

	sanitized := illegalChars.ReplaceAllString(filenameKey, "_")

	return path.Join(u.Host, hashBucket, sanitized+suffix)
}

// stripPrivateParams removes every query parameter named in
// m.privateParams (case-insensitive) and returns what remains, in its
// original relative order. url.Values.Encode is deliberately not used
// here: it sorts keys, and the surviving parameters must keep their
// original order for the mapped path to stay stable.
func (m *PathMapper) stripPrivateParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			name = pair[:i]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if m.privateParams[strings.ToLower(name)] {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// absHash returns a non-negative hash of s. FNV-1a is used rather than a
// cryptographic hash since this is a bucketing scheme, not a security
// boundary.
func absHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

var mimeSuffixes = map[string]string{
	"image/jpeg":                 ".jpg",
	"image/png":                  ".png",
	"image/gif":                  ".gif",
	"image/bmp":                  ".bmp",
	"image/tiff":                 ".tif",
	"image/dds":                  ".dds",
	"text/xml":                   ".xml",
	"text/html":                  ".html",
	"text/plain":                 ".txt",
	"application/zip":            ".zip",
	"application/vnd.ogc.se_xml": ".xml",
}

func suffixForContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if s, ok := mimeSuffixes[ct]; ok {
		return s
	}
	return ""
}

// normalizeSuffix folds ".jpeg" to ".jpg" so the two spellings of a
// JPEG suffix map to the same cache file.
func normalizeSuffix(suffix string) string {
	if strings.EqualFold(suffix, ".jpeg") {
		return ".jpg"
	}
	return suffix
}
