// Package visiturl normalizes crawl URLs and derives the keys the scheduler
// groups and orders them by: host, registered domain and a stable hash key.
package visiturl

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/visit-scheduler/internal/hash/sha256"
)

// ErrMalformedURL is matched by every MalformedURLError.
var ErrMalformedURL = errors.New("malformed url")

// MalformedURLError reports input that cannot be normalized into a crawlable URL.
type MalformedURLError struct {
	Raw string
	Err error
}

func (e *MalformedURLError) Error() string {
	return fmt.Sprintf("malformed url %q: %v", e.Raw, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *MalformedURLError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMalformedURL.
func (e *MalformedURLError) Is(target error) bool { return target == ErrMalformedURL }

// URL is an immutable, normalized http(s) URL. The zero value is not a valid
// URL; use Normalize or Resolve. URLs are comparable with ==.
type URL struct {
	s       string
	host    string
	domain  string
	hashKey string
}

// Normalize parses raw and returns its canonical form. Normalization is
// idempotent: Normalize(u.String()) returns u for every normalized u.
func Normalize(raw string) (URL, error) {
	trimmed := strings.TrimFunc(raw, isSpaceOrControl)
	if trimmed == "" {
		return URL{}, &MalformedURLError{Raw: raw, Err: errors.New("empty")}
	}
	u, err := url.Parse(norm.NFC.String(trimmed))
	if err != nil {
		return URL{}, &MalformedURLError{Raw: raw, Err: err}
	}
	return fromParsed(raw, u)
}

// MustNormalize is like Normalize but panics on error. It is meant for
// constants and tests.
func MustNormalize(raw string) URL {
	u, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Resolve resolves ref against u (RFC 3986 section 5) and normalizes the result.
func (u URL) Resolve(ref string) (URL, error) {
	if u.s == "" {
		return URL{}, &MalformedURLError{Raw: ref, Err: errors.New("resolve against zero url")}
	}
	base, err := url.Parse(u.s)
	if err != nil {
		return URL{}, &MalformedURLError{Raw: u.s, Err: err}
	}
	trimmed := strings.TrimFunc(ref, isSpaceOrControl)
	if trimmed == "" {
		return u, nil
	}
	r, err := url.Parse(norm.NFC.String(trimmed))
	if err != nil {
		return URL{}, &MalformedURLError{Raw: ref, Err: err}
	}
	return fromParsed(ref, base.ResolveReference(r))
}

// String returns the normalized URL.
func (u URL) String() string { return u.s }

// Host returns the lower-cased host name without port.
func (u URL) Host() string { return u.host }

// Domain returns the registrable domain of the host (example.com for
// www.example.com, example.co.uk for a.b.example.co.uk). IP addresses,
// single-label hosts and bare public suffixes are their own domain.
func (u URL) Domain() string { return u.domain }

// HashKey returns the fixed-width stable key of the normalized URL.
func (u URL) HashKey() string { return u.hashKey }

// IsZero reports whether u is the zero URL.
func (u URL) IsZero() bool { return u.s == "" }

func fromParsed(raw string, u *url.URL) (URL, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return URL{}, &MalformedURLError{Raw: raw, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	host, hostPort, err := normalizeHost(scheme, u)
	if err != nil {
		return URL{}, &MalformedURLError{Raw: raw, Err: err}
	}

	query := normalizeQuery(u.RawQuery)
	path := normalizePath(u.EscapedPath())
	if query == "" && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	if u.User != nil {
		sb.WriteString(u.User.String())
		sb.WriteByte('@')
	}
	sb.WriteString(hostPort)
	sb.WriteString(path)
	if query != "" {
		sb.WriteByte('?')
		sb.WriteString(query)
	}
	s := sb.String()

	return URL{
		s:       s,
		host:    host,
		domain:  registeredDomain(host),
		hashKey: sha256.Key(s),
	}, nil
}

func normalizeHost(scheme string, u *url.URL) (string, string, error) {
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", "", errors.New("missing host")
	}
	if strings.Contains(host, ":") {
		if net.ParseIP(host) == nil {
			return "", "", fmt.Errorf("invalid ip literal %q", host)
		}
	} else {
		ascii, err := idna.Punycode.ToASCII(host)
		if err != nil {
			return "", "", fmt.Errorf("idna host %q: %w", host, err)
		}
		host = ascii
	}

	hostPort := host
	if strings.Contains(host, ":") {
		hostPort = "[" + host + "]"
	}
	port := u.Port()
	if port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		hostPort += ":" + port
	}
	return host, hostPort, nil
}

func registeredDomain(host string) string {
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// normalizePath collapses empty segments, resolves dot segments and
// canonicalizes percent-encoding segment by segment, so an encoded slash
// stays inside its segment.
func normalizePath(escaped string) string {
	segments := strings.Split(escaped, "/")
	out := make([]string, 0, len(segments))
	trailing := strings.HasSuffix(escaped, "/")
	for i, seg := range segments {
		last := i == len(segments)-1
		decoded := decode(seg, false)
		switch string(decoded) {
		case "":
			continue
		case ".":
			trailing = trailing || last
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			trailing = trailing || last
			continue
		}
		out = append(out, encode(decoded, pathAllowed))
	}
	p := "/" + strings.Join(out, "/")
	if trailing && len(out) > 0 {
		p += "/"
	}
	return p
}

func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	params := strings.Split(raw, "&")
	out := make([]string, 0, len(params))
	for _, param := range params {
		if param == "" {
			continue
		}
		key, value, hasValue := strings.Cut(param, "=")
		k := encode(collapseSpace(decode(key, true)), queryAllowed)
		if !hasValue {
			if k != "" {
				out = append(out, k)
			}
			continue
		}
		out = append(out, k+"="+encode(collapseSpace(decode(value, true)), queryAllowed))
	}
	return strings.Join(out, "&")
}

func collapseSpace(b []byte) []byte {
	return []byte(strings.Join(strings.Fields(string(b)), " "))
}

// decode percent-decodes s (leaving malformed escapes literal) and applies
// NFC when the result is valid UTF-8.
func decode(s string, plusIsSpace bool) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
		case c == '+' && plusIsSpace:
			out = append(out, ' ')
		default:
			out = append(out, c)
		}
	}
	if utf8.Valid(out) {
		out = norm.NFC.Bytes(out)
	}
	return out
}

const upperHex = "0123456789ABCDEF"

func encode(b []byte, allowed func(byte) bool) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if allowed(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0f])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func pathAllowed(c byte) bool {
	return isUnreserved(c) || strings.IndexByte("!$&'()*+,;=:@", c) >= 0
}

func queryAllowed(c byte) bool {
	return isUnreserved(c) || strings.IndexByte("!$'()*,;:@/?", c) >= 0
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func isSpaceOrControl(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}
