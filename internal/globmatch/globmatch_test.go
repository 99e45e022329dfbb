package globmatch

import "testing"

func TestMatch(t *testing.T) {
	tt := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*.pyc", "foo.pyc", true},
		{"*.pyc", "dir/foo.pyc", false},
		{"**/*.pyc", "dir/sub/foo.pyc", true},
		{"**/.git/**", "a/b/.git/HEAD", true},
		{"**/.git/**", "a/b/.git", false},
		{"**/*.pyc", "foo.pyc", true},
		{"etc/*", "etc/passwd", true},
		{"etc/*", "etc/sub/passwd", false},
	}
	for _, tc := range tt {
		t.Run(tc.pattern+"_"+tc.name, func(t *testing.T) {
			p := Compile(tc.pattern)
			if got := p.Match(tc.name); got != tc.want {
				t.Errorf("Compile(%q).Match(%q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
			}
		})
	}
}
