package pps

import (
	"net/url"
	"regexp"
	"strings"
)

// scpSyntaxRe matches SCP-like syntax: "git@github.com:user/repo". It is
// not a well-formed URI and has to be recognized before generic parsing.
var scpSyntaxRe = regexp.MustCompile(`^([a-zA-Z0-9_][a-zA-Z0-9._-]*)@([a-zA-Z0-9._-]+):(.*)$`)

// URI is the structured form of a requirement's location. ToString is the
// inverse of ParseURI up to password redaction, and re-parsing a serialized
// URI yields an equal record.
type URI struct {
	Scheme       string
	Username     string
	Password     string
	Host         string
	Port         string
	Path         string
	Query        string
	Fragment     string
	Ref          string
	Name         string
	Extras       []string
	Subdirectory string
	DirectURL    bool
	ImplicitSSH  bool
}

// ParseURI parses a generic URI, tolerating a missing netloc for the file
// scheme and normalizing implicit SSH syntax.
func ParseURI(s string) (*URI, error) {
	if m := scpSyntaxRe.FindStringSubmatch(s); m != nil && !strings.Contains(s, "://") {
		// "git@github.com:user/repo" is shorthand for
		// "ssh://git@github.com/user/repo".
		u := &URI{
			Scheme:      "ssh",
			Username:    m[1],
			Host:        m[2],
			ImplicitSSH: true,
		}
		p := m[3]
		if i := strings.IndexByte(p, '#'); i >= 0 {
			u.Fragment = p[i+1:]
			p = p[:i]
		}
		u.Path = "/" + strings.TrimPrefix(p, "/")
		u.splitFragment()
		return u, nil
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return nil, newParseError(failMalformedURI, s, "%s", err)
	}
	if parsed.Scheme == "" {
		return nil, newParseError(failMalformedURI, s, "missing scheme")
	}

	u := &URI{
		Scheme:   parsed.Scheme,
		Host:     parsed.Hostname(),
		Port:     parsed.Port(),
		Path:     parsed.Path,
		Query:    parsed.RawQuery,
		Fragment: parsed.Fragment,
	}
	if parsed.User != nil {
		u.Username = parsed.User.Username()
		u.Password, _ = parsed.User.Password()
	}
	if parsed.Opaque != "" {
		// "file:relative/path" style; keep the opaque part as the path.
		u.Path = parsed.Opaque
	}
	u.splitFragment()
	return u, nil
}

// splitFragment pulls #egg=name[extras] and subdirectory=<path> out of the
// fragment and query.
func (u *URI) splitFragment() {
	for _, rawPart := range []string{u.Fragment, u.Query} {
		for _, kv := range strings.Split(rawPart, "&") {
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				continue
			}
			key, val := kv[:eq], kv[eq+1:]
			switch key {
			case "egg":
				name, extras := splitExtrasSuffix(val)
				u.Name = name
				if len(extras) > 0 {
					u.Extras = extras
				}
			case "subdirectory":
				u.Subdirectory = val
			}
		}
	}
}

// SplitRef splits a trailing "@<ref>" off the path. Only meaningful for
// VCS and local sources; an implicit-SSH URI keeps the first "@" for its
// user part, which the path never contains, so the last "@" is always the
// ref separator.
func (u *URI) SplitRef() {
	if i := strings.LastIndexByte(u.Path, '@'); i >= 0 {
		u.Ref = u.Path[i+1:]
		u.Path = u.Path[:i]
	}
}

// ToString serializes the URI. When redact is true the password is
// replaced with "****"; redaction is the only lossy step.
func (u *URI) ToString(redact bool) string {
	var b strings.Builder

	if u.ImplicitSSH {
		if u.Username != "" {
			b.WriteString(u.Username)
			b.WriteByte('@')
		}
		b.WriteString(u.Host)
		b.WriteByte(':')
		b.WriteString(strings.TrimPrefix(u.Path, "/"))
	} else {
		b.WriteString(u.Scheme)
		b.WriteString("://")
		if u.Username != "" {
			b.WriteString(u.Username)
			if u.Password != "" {
				b.WriteByte(':')
				if redact {
					b.WriteString("****")
				} else {
					b.WriteString(u.Password)
				}
			}
			b.WriteByte('@')
		}
		b.WriteString(u.Host)
		if u.Port != "" {
			b.WriteByte(':')
			b.WriteString(u.Port)
		}
		b.WriteString(u.Path)
	}

	if u.Ref != "" {
		b.WriteByte('@')
		b.WriteString(u.Ref)
	}
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if frag := u.fragmentString(); frag != "" {
		b.WriteByte('#')
		b.WriteString(frag)
	}
	return b.String()
}

func (u *URI) fragmentString() string {
	var parts []string
	if u.Name != "" {
		egg := "egg=" + u.Name
		if len(u.Extras) > 0 {
			egg += "[" + strings.Join(u.Extras, ",") + "]"
		}
		parts = append(parts, egg)
	}
	if u.Subdirectory != "" && !strings.Contains(u.Query, "subdirectory=") {
		parts = append(parts, "subdirectory="+u.Subdirectory)
	}
	if len(parts) == 0 {
		// Preserve any fragment we did not consume.
		if u.Fragment != "" && !strings.Contains(u.Fragment, "egg=") && !strings.Contains(u.Fragment, "subdirectory=") {
			return u.Fragment
		}
		return ""
	}
	return strings.Join(parts, "&")
}

func (u *URI) String() string { return u.ToString(true) }

// splitExtrasSuffix splits a trailing "[e1,e2]" off a name, returning the
// bare name and the lower-cased, sorted, deduplicated extras.
func splitExtrasSuffix(s string) (string, []string) {
	open := strings.IndexByte(s, '[')
	if open < 0 || !strings.HasSuffix(s, "]") {
		return s, nil
	}
	return s[:open], normalizeExtras(strings.Split(s[open+1:len(s)-1], ","))
}

func normalizeExtras(raw []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range raw {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	// insertion sort keeps this allocation-free for the common 1-2 extras
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
