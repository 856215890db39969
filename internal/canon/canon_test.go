package canon

import (
	"testing"

	"github.com/glogos/glogos/internal/protocol"
)

func TestStandardCanonIDs(t *testing.T) {
	cases := map[string]string{
		RawSHA256:       "c794a6fc786ffc3941ec1a46065c4a94a97b6d548da7f8b717872f550619b327",
		TimestampSimple: "5c25b519c7892bf36d29a1d3cabe62cd56ec8c9438032d574cacce7e0e8e94ba",
		Definition:      "df4e66f5a2be89be05bae031aae388bc47ae51dedb4a863ee56228cc76f48265",
	}
	for name, want := range cases {
		if got := ComputeID(name).String(); got != want {
			t.Fatalf("ComputeID(%q) = %s, want %s", name, got, want)
		}
		c, ok := Lookup(ComputeID(name))
		if !ok || c.Name != name {
			t.Fatalf("Lookup(%q) = %+v, %v", name, c, ok)
		}
	}
}

func TestLookupUnknownIsNotFound(t *testing.T) {
	if _, ok := Lookup(ComputeID("finance:transfer:1.0")); ok {
		t.Fatalf("expected unknown canon to be not found")
	}
	if _, ok := Lookup(protocol.CanonID{}); ok {
		t.Fatalf("expected zero id to be not found")
	}
}

func TestIsWellFormedName(t *testing.T) {
	good := []string{RawSHA256, TimestampSimple, "finance:transfer:2.10.3", "a:b:c:1"}
	bad := []string{"", "raw", "raw:sha256", "raw::1.0", "raw:sha256:v1", "raw:sha256:1.", "raw:sha256:.1", "raw:sha256:1..0"}
	for _, name := range good {
		if !IsWellFormedName(name) {
			t.Fatalf("expected %q to be well formed", name)
		}
	}
	for _, name := range bad {
		if IsWellFormedName(name) {
			t.Fatalf("expected %q to be malformed", name)
		}
	}
}

func TestStandardIsSortedAndComplete(t *testing.T) {
	list := Standard()
	if len(list) != 3 {
		t.Fatalf("expected 3 standard canons, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Fatalf("standard canons not sorted: %q before %q", list[i-1].Name, list[i].Name)
		}
	}
	for _, c := range list {
		if c.ID != ComputeID(c.Name) {
			t.Fatalf("canon %q has id %s", c.Name, c.ID)
		}
	}
}

func TestNewArbitraryName(t *testing.T) {
	c := New("anything goes")
	if c.ID.Hash != protocol.DigestString("anything goes") {
		t.Fatalf("unexpected id for arbitrary name")
	}
}
