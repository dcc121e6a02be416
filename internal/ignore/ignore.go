// Package ignore decides which source entries are left out of a snapshot.
//
// Rules are evaluated in order and the first match wins; an entry no rule
// matches is backed up. Pattern syntax follows rsync conventions on top of
// doublestar globbing:
//
//	*.log      basename match at any depth
//	/cache     anchored to the tree root
//	build/     directories only
//	**/tmp/*   ** crosses directory separators
package ignore

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type rule struct {
	pattern  string
	include  bool
	anchored bool
	dirOnly  bool
}

// Rules is an ordered list of include/exclude rules. A nil *Rules ignores
// nothing.
type Rules struct {
	rules []rule
}

// New returns an empty rule list.
func New() *Rules {
	return &Rules{}
}

// Exclude appends a rule that leaves out entries matching pattern.
func (r *Rules) Exclude(pattern string) error {
	return r.add(pattern, false)
}

// Include appends a rule that keeps entries matching pattern, shadowing any
// later exclude.
func (r *Rules) Include(pattern string) error {
	return r.add(pattern, true)
}

func (r *Rules) add(pattern string, include bool) error {
	ru := rule{include: include}

	p := strings.TrimSpace(pattern)
	if strings.HasSuffix(p, "/") {
		ru.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		ru.anchored = true
		p = strings.TrimLeft(p, "/")
	} else if strings.Contains(p, "/") {
		ru.anchored = true
	}
	if p == "" {
		return fmt.Errorf("empty pattern %q", pattern)
	}
	if !doublestar.ValidatePattern(p) {
		return fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	ru.pattern = p
	r.rules = append(r.rules, ru)
	return nil
}

// Len reports the number of rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Ignored reports whether the entry at relPath (relative to the source
// root) should be left out of the snapshot.
func (r *Rules) Ignored(relPath string, isDir bool) bool {
	if r == nil || len(r.rules) == 0 {
		return false
	}
	slashed := filepath.ToSlash(relPath)
	base := path.Base(slashed)

	for _, ru := range r.rules {
		if ru.dirOnly && !isDir {
			continue
		}
		subject := base
		if ru.anchored {
			subject = slashed
		}
		// Patterns are validated in add, so Match cannot fail here.
		if ok, _ := doublestar.Match(ru.pattern, subject); ok {
			return !ru.include
		}
	}
	return false
}
