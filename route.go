package lattice

import (
	"regexp"
	"strconv"
	"strings"
)

// namedGroupPattern finds Go-style named capture groups so they can be
// rewritten with an offset prefix, per spec.md section 4.6 step 2
// ("renaming its named captures from (?<x>...) to (?<_offset_x>...)");
// Go's RE2 syntax spells a named group (?P<x>...).
var namedGroupPattern = regexp.MustCompile(`\(\?P<([A-Za-z_][A-Za-z0-9_]*)>`)

// offsetGroupNames rewrites every named capture in pattern to carry an
// "_<offset>_" prefix, so that after several resource patterns are
// concatenated into one merged regexp their named captures remain
// unambiguous.
func offsetGroupNames(pattern string, offset int) string {
	return namedGroupPattern.ReplaceAllString(pattern, "(?P<_"+strconv.Itoa(offset)+"_$1>")
}

// validateRoutePath enforces spec.md section 4.6's path constraints: no
// "^"/"$" anchors (the merge adds its own) and no leading escaped
// slash.
func validateRoutePath(path string) {
	if strings.Contains(path, "^") || strings.Contains(path, "$") {
		panic("lattice: route path must not contain '^' or '$': " + path)
	}

	if strings.HasPrefix(path, `\/`) {
		panic(`lattice: route path must not start with an escaped slash: ` + path)
	}
}

// route is one compiled alternative inside a Service's merged regex.
type route struct {
	resource  *resourceEntry
	offset    int // index of this route's own outer wrapping group
	numGroups int // capture groups owned by the resource's own pattern
}

// mergedRoute is the lazily (and at most once; spec.md section 5 "built
// at most once, double-checked") compiled route table for a Service.
type mergedRoute struct {
	pattern *regexp.Regexp
	routes  []*route
}

// compileRoutes implements spec.md section 4.6 steps 1-3: count
// capture groups per resource, assign offsets, rename named captures,
// and build one merged regexp anchored to mountPrefix.
//
// Go's regexp.Regexp exposes NumSubexp() directly, so step 1's
// "compile against the empty string and take match.length-1" trick
// (a workaround for languages without capture-group introspection) is
// unnecessary here; NumSubexp() yields the identical count.
func compileRoutes(mountPrefix string, resources []*resourceEntry) *mergedRoute {
	offset := 1
	alternatives := make([]string, 0, len(resources))
	routes := make([]*route, 0, len(resources))

	for _, re := range resources {
		numGroups := regexp.MustCompile(re.path).NumSubexp()
		rewritten := offsetGroupNames(re.path, offset)

		alternatives = append(alternatives, "("+rewritten+")")
		routes = append(routes, &route{
			resource:  re,
			offset:    offset,
			numGroups: numGroups,
		})

		offset += 1 + numGroups
	}

	pattern := "^" + strings.TrimSuffix(mountPrefix, "/") + "(?:" + strings.Join(alternatives, "|") + ")$"

	return &mergedRoute{
		pattern: regexp.MustCompile(pattern),
		routes:  routes,
	}
}

// match finds the resource route matching pathname and the path
// parameters captured for it (positional "1".."n" plus named
// captures, spec.md section 4.4's "$name"/"$n" forms).
func (mr *mergedRoute) match(pathname string) (*route, map[string]string, bool) {
	loc := mr.pattern.FindStringSubmatchIndex(pathname)
	if loc == nil {
		return nil, nil, false
	}

	for _, r := range mr.routes {
		if loc[2*r.offset] == -1 {
			continue
		}

		params := map[string]string{}

		for i := 1; i <= r.numGroups; i++ {
			idx := r.offset + i
			if 2*idx+1 >= len(loc) || loc[2*idx] == -1 {
				continue
			}

			params[strconv.Itoa(i)] = pathname[loc[2*idx]:loc[2*idx+1]]
		}

		prefix := "_" + strconv.Itoa(r.offset) + "_"
		for i, name := range mr.pattern.SubexpNames() {
			if name == "" || !strings.HasPrefix(name, prefix) {
				continue
			}

			if 2*i+1 >= len(loc) || loc[2*i] == -1 {
				continue
			}

			params[strings.TrimPrefix(name, prefix)] = pathname[loc[2*i]:loc[2*i+1]]
		}

		return r, params, true
	}

	return nil, nil, false
}

// filterRoute is an individually-compiled filter pattern, built as
// spec.md section 4.6 step 4 describes ("built individually, not
// merged").
type filterRoute struct {
	filter  *filterEntry
	pattern *regexp.Regexp
}

func compileFilterRoute(mountPrefix string, fe *filterEntry) *filterRoute {
	return &filterRoute{
		filter:  fe,
		pattern: regexp.MustCompile("^" + strings.TrimSuffix(mountPrefix, "/") + fe.path),
	}
}
