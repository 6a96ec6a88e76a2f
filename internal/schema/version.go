// Package schema compares stored schema versions and runs the ordered chain
// of upgraders that brings a store up to date.
package schema

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a dotted schema version such as "3.1" or "3.1.2".
type Version string

// ParseVersion validates s. A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if !semver.IsValid("v" + s) {
		return "", fmt.Errorf("invalid schema version %q", s)
	}
	return Version(s), nil
}

// MustParse is ParseVersion for constants.
func MustParse(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version without the semver prefix.
func (v Version) String() string {
	return string(v)
}

// Compare returns -1, 0 or +1. "3.1" and "3.1.0" compare equal.
func (v Version) Compare(o Version) int {
	return semver.Compare("v"+string(v), "v"+string(o))
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// InRange reports whether v is at least from and strictly below to. An
// upgrader targeting "to" uses it so interim revisions between releases
// are upgraded too.
func (v Version) InRange(from, to Version) bool {
	return v.Compare(from) >= 0 && v.Compare(to) < 0
}
