// Package urlcheck validates and normalizes target URLs before any fetch.
// It is the SSRF guard: private, loopback, link-local, and cloud metadata
// ranges are rejected outright.
package urlcheck

import (
	"context"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/distillhq/distill/internal/apperr"
)

// IPFamily categorizes the resolved address family of a validated host.
type IPFamily string

const (
	FamilyIPv4    IPFamily = "ipv4"
	FamilyIPv6    IPFamily = "ipv6"
	FamilyUnknown IPFamily = "unknown"
)

// Result is the outcome of a successful validation.
type Result struct {
	URL        *url.URL
	Normalized string
	Family     IPFamily
}

// Resolver resolves a hostname to IP addresses. Swapped in tests.
type Resolver func(ctx context.Context, host string) ([]net.IP, error)

// Validator parses, normalizes, and screens URLs.
type Validator struct {
	// OrderQuery sorts query parameters during normalization. Off by
	// default: reordering can change semantics on arbitrary sites.
	OrderQuery bool

	// ExtraBlocked adds CIDRs to the built-in private-range screen.
	ExtraBlocked []*net.IPNet

	// SkipResolve disables DNS resolution (literal-IP checks still run).
	SkipResolve bool

	// AllowLoopback admits loopback targets. Development and test use
	// only; never enabled in production configs.
	AllowLoopback bool

	Resolve Resolver
}

// NewValidator returns a validator with the default resolver.
func NewValidator() *Validator {
	return &Validator{
		Resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		},
	}
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// Validate parses raw, applies the SSRF screen, and returns the
// normalized URL. All rejections carry the invalid_url code.
func (v *Validator) Validate(ctx context.Context, raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.New(apperr.CodeInvalidURL, "empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidURL, "unparseable url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Newf(apperr.CodeInvalidURL, "scheme %q not allowed", u.Scheme)
	}
	if u.Host == "" {
		return nil, apperr.New(apperr.CodeInvalidURL, "url is not absolute")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, apperr.New(apperr.CodeInvalidURL, "missing host")
	}
	if !v.AllowLoopback && (host == "localhost" || strings.HasSuffix(host, ".localhost")) {
		return nil, apperr.New(apperr.CodeInvalidURL, "loopback host not allowed")
	}

	family := FamilyUnknown
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if err := v.screenIP(ip); err != nil {
			return nil, err
		}
		family = familyOf(ip)
	} else if !v.SkipResolve && v.Resolve != nil {
		ips, err := v.Resolve(ctx, host)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidURL, "host does not resolve", err)
		}
		for _, ip := range ips {
			if err := v.screenIP(ip); err != nil {
				return nil, err
			}
		}
		if len(ips) > 0 {
			family = familyOf(ips[0])
		}
	}

	norm := v.normalize(u, host)
	nu, _ := url.Parse(norm)
	return &Result{URL: nu, Normalized: norm, Family: family}, nil
}

// screenIP rejects addresses in private, loopback, link-local, and
// metadata-service ranges.
func (v *Validator) screenIP(ip net.IP) error {
	if ip.IsLoopback() {
		if v.AllowLoopback {
			return nil
		}
		return apperr.Newf(apperr.CodeInvalidURL, "address %s is in a disallowed range", ip)
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return apperr.Newf(apperr.CodeInvalidURL, "address %s is in a disallowed range", ip)
	}
	// Cloud metadata service.
	if ip.Equal(net.IPv4(169, 254, 169, 254)) {
		return apperr.New(apperr.CodeInvalidURL, "metadata service address not allowed")
	}
	for _, blocked := range v.ExtraBlocked {
		if blocked.Contains(ip) {
			return apperr.Newf(apperr.CodeInvalidURL, "address %s is blocked by policy", ip)
		}
	}
	return nil
}

// normalize lower-cases the host, strips default ports, resolves dot
// segments, and optionally orders query parameters.
func (v *Validator) normalize(u *url.URL, host string) string {
	port := u.Port()
	if def, ok := defaultPorts[u.Scheme]; ok && port == def {
		port = ""
	}
	hostport := host
	if port != "" {
		hostport = net.JoinHostPort(host, port)
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	} else {
		trailing := strings.HasSuffix(p, "/") && p != "/"
		p = path.Clean(p)
		if trailing && p != "/" {
			p += "/"
		}
	}

	q := u.RawQuery
	if v.OrderQuery && q != "" {
		values, err := url.ParseQuery(q)
		if err == nil {
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var parts []string
			for _, k := range keys {
				vs := values[k]
				sort.Strings(vs)
				for _, val := range vs {
					parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(val))
				}
			}
			q = strings.Join(parts, "&")
		}
	}

	out := u.Scheme + "://" + hostport + p
	if q != "" {
		out += "?" + q
	}
	return out
}

func familyOf(ip net.IP) IPFamily {
	if ip.To4() != nil {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// Origin returns the scheme://host[:port] origin of a URL.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
