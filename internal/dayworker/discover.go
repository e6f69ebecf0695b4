// Package dayworker turns a schedule page's own API traffic into a
// replayable per-day request template, then fetches a whole week in
// parallel without rendering seven pages.
package dayworker

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// Date layouts recognized in captured requests.
const (
	LayoutISO         = "2006-01-02"
	LayoutUS          = "1/2/2006"
	LayoutEpoch       = "epoch"
	LayoutEpochMillis = "epoch-ms"
)

var (
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	usDateRe  = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)
	epochRe   = regexp.MustCompile(`^\d{10,13}$`)
)

// Headers never carried into a replay: hop-by-hop, connection-managed,
// or injected separately (cookies).
var excludedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"cookie":            true,
}

// CapturedRequest is one observed XHR/fetch request.
type CapturedRequest struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string
}

// dateLayout classifies a value as a known date shape. Epoch values of
// 12+ digits are milliseconds; shorter ones are seconds.
func dateLayout(v string) (string, bool) {
	switch {
	case isoDateRe.MatchString(v):
		return LayoutISO, true
	case usDateRe.MatchString(v):
		return LayoutUS, true
	case epochRe.MatchString(v):
		if len(v) >= 12 {
			return LayoutEpochMillis, true
		}
		return LayoutEpoch, true
	}
	return "", false
}

// DiscoverPattern scans captured requests in order and returns the
// first one that carries a date-valued query parameter or JSON body
// field, templated for replay.
func DiscoverPattern(requests []CapturedRequest) (*types.DayAPIPattern, bool) {
	for _, req := range requests {
		if p, ok := patternFromRequest(req); ok {
			return p, true
		}
	}
	return nil, false
}

func patternFromRequest(req CapturedRequest) (*types.DayAPIPattern, bool) {
	method := strings.ToUpper(req.Method)
	if method != "GET" && method != "POST" {
		return nil, false
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, false
	}

	if param, layout, ok := dateQueryParam(u); ok {
		q := u.Query()
		q.Set(param, types.DatePlaceholder)
		u.RawQuery = q.Encode()
		// Encode() escapes the braces; restore the placeholder.
		u.RawQuery = strings.ReplaceAll(u.RawQuery, url.QueryEscape(types.DatePlaceholder), types.DatePlaceholder)
		return &types.DayAPIPattern{
			URLTemplate: u.String(),
			Method:      method,
			DateParam:   param,
			Headers:     replayHeaders(req.Headers),
			DateLayout:  layout,
		}, true
	}

	if method == "POST" && req.Body != "" {
		if tmpl, paths, layout, ok := dateBodyTemplate(req.Body); ok {
			return &types.DayAPIPattern{
				URLTemplate:  req.URL,
				Method:       method,
				DateParam:    strings.Join(paths, ","),
				BodyTemplate: tmpl,
				BodyPaths:    paths,
				Headers:      replayHeaders(req.Headers),
				DateLayout:   layout,
			}, true
		}
	}

	return nil, false
}

// dateQueryParam finds the first query parameter whose value is a date.
func dateQueryParam(u *url.URL) (param, layout string, ok bool) {
	q := u.Query()
	for _, key := range sortedKeys(q) {
		vals := q[key]
		if len(vals) == 0 {
			continue
		}
		if l, isDate := dateLayout(vals[0]); isDate {
			return key, l, true
		}
	}
	return "", "", false
}

// numericPlaceholder marks date leaves that were JSON numbers in the
// captured body; after marshalling, the surrounding quotes are stripped
// so the replayed value keeps the captured type.
const numericPlaceholder = "{{date:num}}"

// dateBodyTemplate rewrites date-valued fields of a JSON body to the
// placeholder and returns their dotted paths.
func dateBodyTemplate(body string) (tmpl string, paths []string, layout string, ok bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return "", nil, "", false
	}

	walkJSON(doc, "", func(path string, value any) any {
		s, isStr := value.(string)
		if !isStr {
			if n, isNum := value.(float64); isNum {
				s = strconv.FormatFloat(n, 'f', -1, 64)
			} else {
				return value
			}
		}
		if l, isDate := dateLayout(s); isDate {
			if layout == "" {
				layout = l
			}
			paths = append(paths, path)
			if isStr {
				return types.DatePlaceholder
			}
			return numericPlaceholder
		}
		return value
	})

	if len(paths) == 0 {
		return "", nil, "", false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", nil, "", false
	}
	tmpl = strings.ReplaceAll(string(out), `"`+numericPlaceholder+`"`, types.DatePlaceholder)
	return tmpl, paths, layout, true
}

// walkJSON visits every leaf of a decoded JSON object in-place.
func walkJSON(node map[string]any, prefix string, visit func(path string, value any) any) {
	for _, key := range sortedMapKeys(node) {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch child := node[key].(type) {
		case map[string]any:
			walkJSON(child, path, visit)
		default:
			node[key] = visit(path, child)
		}
	}
}

// replayHeaders filters captured headers down to the replayable set.
func replayHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if excludedHeaders[lower] || strings.HasPrefix(lower, "sec-fetch-") {
			continue
		}
		out[k] = v
	}
	return out
}

// FormatDate renders a date in the pattern's captured layout, keeping
// the unit the site's own traffic used.
func FormatDate(layout string, t time.Time) string {
	switch layout {
	case LayoutEpoch:
		return strconv.FormatInt(t.Unix(), 10)
	case LayoutEpochMillis:
		return strconv.FormatInt(t.UnixMilli(), 10)
	case "":
		layout = LayoutISO
	}
	return t.Format(layout)
}

func sortedKeys(q url.Values) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
