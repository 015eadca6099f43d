package navigation

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Route is a parsed navigation target.
type Route struct {
	Path  string
	Query map[string]string
}

// URL renders the route back to path?query form with keys sorted.
func (r Route) URL() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	keys := make([]string, 0, len(r.Query))
	for k := range r.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.Path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(r.Query[k]))
	}
	return b.String()
}

// ParseURL splits raw into path and decoded query. Query pairs are joined by
// '&'; a key without '=' maps to the empty string; later duplicates win.
func ParseURL(raw string) (Route, error) {
	p, rawQuery, _ := strings.Cut(raw, "?")
	r := Route{Path: p}
	if rawQuery == "" {
		return r, nil
	}

	r.Query = make(map[string]string)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return Route{}, errs.Wrap(errs.KindMalformedInput, "navigation.ParseURL", err)
		}
		if key == "" {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return Route{}, errs.Wrap(errs.KindMalformedInput, "navigation.ParseURL", err)
		}
		r.Query[key] = val
	}
	if len(r.Query) == 0 {
		r.Query = nil
	}
	return r, nil
}

// Normalize returns p as a clean absolute route. The empty route stays empty.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)
}

// Resolve resolves target against base, the route of the page the request
// came from. Absolute targets ignore base; relative ones, including ./ and
// ../ segments, resolve against base's directory. The query is kept as is.
func Resolve(base, target string) string {
	p, q, hasQuery := strings.Cut(target, "?")
	if p == "" {
		return target
	}

	var resolved string
	if strings.HasPrefix(p, "/") {
		resolved = path.Clean(p)
	} else {
		dir := "/"
		if base != "" {
			dir = path.Dir(Normalize(base))
		}
		resolved = path.Join(dir, p)
	}

	if hasQuery {
		return resolved + "?" + q
	}
	return resolved
}
