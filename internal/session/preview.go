package session

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/listenlab/multiscribe/internal/schema"
	"github.com/listenlab/multiscribe/internal/shared"
)

const listenPath = "/v1/listen"

// Render reconstructs the connection URL equivalent to the session's
// current configuration: wss://<base_url>/v1/listen?field=value&...
// Only explicitly set values appear: empty strings and false booleans
// are omitted, so ParseConnectionURL(Render(s)) reproduces every
// non-default, non-empty field.
func Render(p schema.Provider, v View) string {
	base, pairs := previewParts(p, v)
	if base == "" {
		return ""
	}
	return base + strings.Join(pairs, "&")
}

// RenderLines reflows the preview across lines no longer than width,
// escaping ampersands as &amp; the way the display surface expects.
// Joining the lines and unescaping yields the Render output again.
func RenderLines(p schema.Provider, v View, width int) []string {
	base, pairs := previewParts(p, v)
	if base == "" {
		return nil
	}
	if width <= 0 {
		width = 80
	}

	var lines []string
	current := base
	for i, pair := range pairs {
		if current != base && len(current)+len(pair)+1 > width {
			lines = append(lines, current+"&amp;")
			current = pair
		} else if current == base {
			current += pair
		} else {
			current += "&amp;" + pair
		}
		if i == len(pairs)-1 {
			lines = append(lines, current)
		}
	}
	if len(pairs) == 0 {
		lines = append(lines, current)
	}
	return lines
}

func previewParts(p schema.Provider, v View) (string, []string) {
	baseURL, _ := v.Config["base_url"].(string)
	if baseURL == "" {
		return "", nil
	}
	base := "wss://" + baseURL + listenPath + "?"

	var pairs []string
	for _, field := range p.Fields {
		if field == "base_url" {
			continue
		}
		pairs = appendPairs(pairs, field, v.Config[field])
	}

	extraKeys := make([]string, 0, len(v.Extra))
	for k := range v.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		pairs = appendPairs(pairs, k, v.Extra[k])
	}

	return base, pairs
}

func appendPairs(pairs []string, key string, value any) []string {
	switch v := value.(type) {
	case nil:
		return pairs
	case bool:
		if v {
			return append(pairs, url.QueryEscape(key)+"=true")
		}
		return pairs
	case []string:
		for _, item := range v {
			pairs = appendPairs(pairs, key, item)
		}
		return pairs
	case []any:
		for _, item := range v {
			pairs = appendPairs(pairs, key, item)
		}
		return pairs
	default:
		s := formatValue(v)
		if s == "" {
			return pairs
		}
		return append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(s))
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ParseConnectionURL extracts a configuration mapping from a connection
// URL: the host becomes base_url and each query parameter a field. A
// parameter repeated in the URL collapses into an ordered []string of its
// values. Display artifacts (whitespace, &amp; escaping) are tolerated.
func ParseConnectionURL(raw string) (map[string]any, error) {
	cleaned := strings.NewReplacer(" ", "", "\n", "", "\t", "").Replace(raw)
	cleaned = strings.ReplaceAll(cleaned, "&amp;", "&")
	if cleaned == "" {
		return nil, shared.ErrConfigFormat
	}

	switch {
	case strings.HasPrefix(cleaned, "ws://"):
		cleaned = "http://" + strings.TrimPrefix(cleaned, "ws://")
	case strings.HasPrefix(cleaned, "wss://"):
		cleaned = "https://" + strings.TrimPrefix(cleaned, "wss://")
	case strings.HasPrefix(cleaned, "/"):
		cleaned = "https://api.deepgram.com" + cleaned
	case !strings.Contains(cleaned, "://"):
		cleaned = "https://" + cleaned
	}

	u, err := url.Parse(cleaned)
	if err != nil || u.Hostname() == "" {
		return nil, shared.ErrConfigFormat
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, shared.ErrConfigFormat
	}

	params := map[string]any{"base_url": u.Hostname()}
	for key, values := range query {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		switch len(kept) {
		case 0:
		case 1:
			params[key] = kept[0]
		default:
			params[key] = kept
		}
	}
	return params, nil
}
