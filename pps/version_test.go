package pps

import (
	"reflect"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in       string
		segments []uint64
		wildcard bool
		err      bool
	}{
		{in: "1", segments: []uint64{1}},
		{in: "3.7", segments: []uint64{3, 7}},
		{in: "3.7.2", segments: []uint64{3, 7, 2}},
		{in: "0.0.1", segments: []uint64{0, 0, 1}},
		{in: "3.7.*", segments: []uint64{3, 7}, wildcard: true},
		{in: "3.*", segments: []uint64{3}, wildcard: true},
		{in: "", err: true},
		{in: "3.x", err: true},
		{in: "banana", err: true},
		{in: "1..2", err: true},
	}

	for _, tt := range tests {
		v, err := ParseVersion(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseVersion(%q): expected error, got %v", tt.in, v)
			} else if !IsMalformedVersion(err) {
				t.Errorf("ParseVersion(%q): expected malformed version error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVersion(%q): unexpected error %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(v.Segments(), tt.segments) {
			t.Errorf("ParseVersion(%q): segments %v, want %v", tt.in, v.Segments(), tt.segments)
		}
		if v.Wildcard() != tt.wildcard {
			t.Errorf("ParseVersion(%q): wildcard %v, want %v", tt.in, v.Wildcard(), tt.wildcard)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.0", "1.1", -1},
		{"2.0", "1.9", 1},
		{"3.10", "3.9", 1},
		{"1.0.1", "1.0", 1},
	}

	for _, tt := range tests {
		a, b := mustVersion(tt.a), mustVersion(tt.b)
		if got := a.Compare(b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := b.Compare(a); got != -tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestSortVersions(t *testing.T) {
	in := []Version{
		mustVersion("3.10"),
		mustVersion("1.0"),
		mustVersion("3.2"),
		mustVersion("2.0.1"),
	}
	want := []string{"1.0", "2.0.1", "3.2", "3.10"}

	got := sortVersions(in)
	for i, v := range got {
		if v.String() != want[i] {
			t.Fatalf("sortVersions: position %d is %s, want %s", i, v, want[i])
		}
	}
}

func TestParseCache(t *testing.T) {
	c := NewParseCache()
	v1, err := c.Version("3.7.2")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := c.Version("3.7.2")
	if err != nil {
		t.Fatal(err)
	}
	if !v1.Equal(v2) {
		t.Errorf("cached parse differs: %v vs %v", v1, v2)
	}
	if _, err := c.Version("not-a-version"); err == nil {
		t.Error("expected error for malformed version")
	}
}
