package catalog

import (
	"slices"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("version = %d", c.Version)
	}
	if len(c.BaseInputs) != 29 || len(c.Media[MediaRich]) != 61 || len(c.Media[MediaMinimal]) != 22 {
		t.Fatalf("unexpected media sizes: base=%d rich=%d minimal=%d", len(c.BaseInputs), len(c.Media[MediaRich]), len(c.Media[MediaMinimal]))
	}
	if c.Biomass.Exchange != "EX_biomass" {
		t.Fatalf("biomass exchange = %q", c.Biomass.Exchange)
	}

	objectives := map[Gram]string{GramPositive: "biomass_GmPos", GramNegative: "biomass_GmNeg", GramNone: "biomass"}
	for g, want := range objectives {
		if got := c.Objective(g); got != want {
			t.Fatalf("objective(%s) = %q, want %q", g, got, want)
		}
	}

	if n := len(c.BiomassIDs(GramNone)); n != 8 {
		t.Fatalf("expected 8 universal biomass reactions, got %d", n)
	}
	if n := len(c.BiomassIDs(GramPositive)); n != 12 {
		t.Fatalf("expected 12 gram-positive biomass reactions, got %d", n)
	}
	if !slices.Equal(c.BiomassIDs(GramPositive), c.BiomassIDs(GramNegative)) {
		t.Fatalf("gram-specific biomass sets should list the same ids")
	}
}

func TestMediumSelectors(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}

	def, named := c.Medium(MediaDefaultAlias)
	if !named || len(def) != 29 {
		t.Fatalf("default alias resolved to named=%v with %d ids", named, len(def))
	}

	ids, named := c.Medium(" cpd00027_e, cpd00001_e ,,")
	if named {
		t.Fatalf("explicit list reported as named medium")
	}
	if !slices.Equal(ids, []string{"cpd00027_e", "cpd00001_e"}) {
		t.Fatalf("explicit list parsed as %v", ids)
	}

	if ids, _ = c.Medium(""); len(ids) != 0 {
		t.Fatalf("empty selector returned %v", ids)
	}

	rich, _ := c.Medium(MediaRich)
	rich[0] = "mutated"
	again, _ := c.Medium(MediaRich)
	if again[0] != "cpd00001_e" {
		t.Fatalf("medium slices must be copies, got %q", again[0])
	}
}

func TestParseGram(t *testing.T) {
	cases := []struct {
		in   string
		want Gram
		ok   bool
	}{
		{"Positive", GramPositive, true},
		{"", GramNone, true},
		{"archaea", GramNone, false},
	}
	for _, tc := range cases {
		g, ok := ParseGram(tc.in)
		if g != tc.want || ok != tc.ok {
			t.Fatalf("ParseGram(%q) = %v, %v; want %v, %v", tc.in, g, ok, tc.want, tc.ok)
		}
	}
}

func TestLoadValidates(t *testing.T) {
	if _, err := Load(strings.NewReader("version: 0\n")); err == nil {
		t.Fatalf("expected version error")
	}
	_, err := Load(strings.NewReader("version: 1\nobjectives: {none: a, positive: b, negative: c}\n"))
	if err == nil || !strings.Contains(err.Error(), "missing medium") {
		t.Fatalf("expected missing medium error, got %v", err)
	}
	if _, err := Load(strings.NewReader("version: 1\nunknown_field: true\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
