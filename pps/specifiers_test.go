package pps

import "testing"

func TestParseSpecifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: ">=1.0", want: ">=1.0"},
		{in: "== 2.7", want: "==2.7"},
		{in: "1.0", want: "==1.0"},
		{in: "~=3.1", want: "~=3.1"},
		{in: "===1.0", want: "===1.0"},
		{in: "==3.7*", want: "==3.7.*"},
		{in: "!=3.0.*", want: "!=3.0.*"},
		{in: ">=", err: true},
		{in: ">=abc", err: true},
	}

	for _, tt := range tests {
		sp, err := ParseSpecifier(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseSpecifier(%q): expected error, got %v", tt.in, sp)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSpecifier(%q): unexpected error %v", tt.in, err)
			continue
		}
		if sp.String() != tt.want {
			t.Errorf("ParseSpecifier(%q) = %s, want %s", tt.in, sp, tt.want)
		}
	}
}

func TestSpecifierMatches(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{"==1.0", "1.0", true},
		{"==1.0", "1.0.0", true},
		{"==1.0", "1.1", false},
		{"!=1.0", "1.1", true},
		{"==3.7.*", "3.7.2", true},
		{"==3.7.*", "3.8.0", false},
		{"!=3.7.*", "3.8.0", true},
		{">=3.8", "3.8", true},
		{">=3.8", "3.7.9", false},
		{"<2.0", "1.9.9", true},
		{"<2.0", "2.0", false},
		{"~=2.2", "2.3", true},
		{"~=2.2", "2.1", false},
		{"~=2.2", "3.0", false},
		{"~=1.4.2", "1.4.5", true},
		{"~=1.4.2", "1.5.0", false},
	}

	for _, tt := range tests {
		sp, err := ParseSpecifier(tt.spec)
		if err != nil {
			t.Fatalf("ParseSpecifier(%q): %v", tt.spec, err)
		}
		if got := sp.Matches(mustVersion(tt.version)); got != tt.want {
			t.Errorf("%s.Matches(%s) = %v, want %v", tt.spec, tt.version, got, tt.want)
		}
	}
}

func TestNormalizeOpenBound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{">3.6", ">=3.7"},
		{"<=3.6", "<3.7"},
		{">=3.6", ">=3.6"},
		{"<3.6", "<3.6"},
		// Incrementing past the ceiling leaves the bound alone.
		{">3.13", ">3.13"},
		{">4.0", ">4.0"},
		// Unknown major versions are never rewritten.
		{">9.0", ">9.0"},
	}

	for _, tt := range tests {
		sp, err := ParseSpecifier(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := normalizeOpenBound(sp).String(); got != tt.want {
			t.Errorf("normalizeOpenBound(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSpecifierSetCollapse(t *testing.T) {
	tests := []struct {
		in   string
		join Join
		want string
	}{
		// Or keeps the loosest lower bound, And the tightest.
		{">=3.6,>=3.8", JoinOr, ">=3.6"},
		{">=3.6,>=3.8", JoinAnd, ">=3.8"},
		{"<3.6,<3.9", JoinOr, "<3.9"},
		{"<3.6,<3.9", JoinAnd, "<3.6"},
		// Open bounds normalize to half-open form before collapsing.
		{">3.6,>=3.8", JoinAnd, ">=3.8"},
		{"<=3.6,<3.5", JoinAnd, "<3.5"},
		// Equalities survive verbatim.
		{"==2.7,==3.6", JoinOr, "==2.7,==3.6"},
		{"==2.7,!=3.0", JoinAnd, "==2.7,!=3.0"},
	}

	for _, tt := range tests {
		s, err := ParseSpecifierSet(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Collapse(tt.join).String(); got != tt.want {
			t.Errorf("Collapse(%q, %v) = %q, want %q", tt.in, tt.join, got, tt.want)
		}
	}
}

func TestCollapseIdempotent(t *testing.T) {
	for _, in := range []string{
		">=3.6,>=3.8,<4.0",
		"==2.7,==3.5,==3.6",
		">3.5,<=3.9,!=3.7",
	} {
		s, err := ParseSpecifierSet(in)
		if err != nil {
			t.Fatal(err)
		}
		once := s.Collapse(JoinOr)
		twice := once.Collapse(JoinOr)
		if once.String() != twice.String() {
			t.Errorf("Collapse(%q) not idempotent: %q then %q", in, once, twice)
		}
	}
}

func TestCollapsePairsMembership(t *testing.T) {
	s, err := ParseSpecifierSet("==2.7,==3.5,==3.6")
	if err != nil {
		t.Fatal(err)
	}
	pairs := s.collapsePairs(JoinOr)
	if len(pairs) != 1 {
		t.Fatalf("expected a single membership pair, got %v", pairs)
	}
	if pairs[0].op != "in" || pairs[0].value != "2.7, 3.5, 3.6" {
		t.Errorf("unexpected pair %+v", pairs[0])
	}

	s, err = ParseSpecifierSet("!=3.0,!=3.1")
	if err != nil {
		t.Fatal(err)
	}
	pairs = s.collapsePairs(JoinAnd)
	if len(pairs) != 1 || pairs[0].op != "not in" {
		t.Fatalf("expected a single not-in pair, got %v", pairs)
	}
}

func TestSpecifierSetEqualAndIntersect(t *testing.T) {
	a, _ := ParseSpecifierSet(">=1.0,<2.0")
	b, _ := ParseSpecifierSet("<2.0,>=1.0")
	if !a.Equal(b) {
		t.Errorf("%s and %s should be equal", a, b)
	}

	c, _ := ParseSpecifierSet(">=1.5")
	inter := a.Intersect(c)
	for _, tc := range []struct {
		version string
		want    bool
	}{
		{"1.4", false},
		{"1.5", true},
		{"1.9", true},
		{"2.0", false},
	} {
		if got := inter.Matches(mustVersion(tc.version)); got != tc.want {
			t.Errorf("(%s).Matches(%s) = %v, want %v", inter, tc.version, got, tc.want)
		}
	}
}

func TestSpecifierSetFilter(t *testing.T) {
	s, _ := ParseSpecifierSet(">=1.0,<2.0")
	vs := []Version{
		mustVersion("0.9"),
		mustVersion("1.5"),
		mustVersion("1.0"),
		mustVersion("2.0"),
	}
	got := s.Filter(vs)
	if len(got) != 2 || got[0].String() != "1.0" || got[1].String() != "1.5" {
		t.Errorf("Filter = %v, want [1.0 1.5]", got)
	}
}
