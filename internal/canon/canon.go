// Package canon names interpretation namespaces. A canon id is the SHA-256 of
// its UTF-8 name; the protocol never interprets what a canon means.
package canon

import (
	"regexp"
	"sort"
	"strings"

	"github.com/glogos/glogos/internal/protocol"
)

const (
	RawSHA256       = "raw:sha256:1.0"
	TimestampSimple = "timestamp:simple:1.0"
	Definition      = "canon:definition:1.0"
)

// Canon pairs a name with its content-addressed id.
type Canon struct {
	ID   protocol.CanonID `json:"id"`
	Name string           `json:"name"`
}

var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// standard is built once at init and never written afterwards.
var standard = func() map[protocol.CanonID]string {
	out := make(map[protocol.CanonID]string, 3)
	for _, name := range []string{RawSHA256, TimestampSimple, Definition} {
		out[ComputeID(name)] = name
	}
	return out
}()

func ComputeID(name string) protocol.CanonID {
	return protocol.CanonID{Hash: protocol.DigestString(name)}
}

// New returns the canon for name.
func New(name string) Canon {
	return Canon{ID: ComputeID(name), Name: name}
}

// IsWellFormedName reports whether name looks like namespace:type[:...]:version
// with a dotted-numeric version. Any string is still a valid canon source.
func IsWellFormedName(name string) bool {
	parts := strings.Split(name, ":")
	if len(parts) < 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return versionPattern.MatchString(parts[len(parts)-1])
}

// Lookup resolves a well-known canon id. Unknown ids report ok=false.
func Lookup(id protocol.CanonID) (Canon, bool) {
	name, ok := standard[id]
	if !ok {
		return Canon{}, false
	}
	return Canon{ID: id, Name: name}, true
}

// Standard lists the well-known canons ordered by name.
func Standard() []Canon {
	out := make([]Canon, 0, len(standard))
	for id, name := range standard {
		out = append(out, Canon{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
