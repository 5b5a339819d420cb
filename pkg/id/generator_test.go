package id

import "testing"

func TestGenerateUnique(t *testing.T) {
	a := Generate()
	b := Generate()
	if a == b {
		t.Errorf("Generate returned duplicate ID %s", a)
	}
	if len(a) != 36 {
		t.Errorf("len(Generate()) = %d, want 36", len(a))
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Fix login bug", "fix-login-bug"},
		{"  Upgrade  deps!! ", "upgrade-deps"},
		{"refactor/api v2", "refactor-api-v2"},
		{"ALLCAPS", "allcaps"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
