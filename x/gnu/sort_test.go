package gnu

import (
	"slices"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "3.3.2", "3.3.2", 0},
		{"numeric runs", "3.30.1", "3.4", 1},
		{"two digit minor", "24.11", "24.8", 1},
		{"four parts", "1.3.243.0", "1.3.250.0", -1},
		{"extra part", "1.3.243", "1.3.243.0", -1},
		{"leading zeros", "11.0.02", "11.0.2", 0},
		{"snapshot dates", "cci.20220112", "cci.20231120", -1},
		{"letters after digits", "1.0a", "1.0", 1},
		{"letters order", "1.0alpha", "1.0beta", -1},
		{"release candidates", "1.0.0-rc10", "1.0.0-rc9", 1},
		{"tilde first", "1.0~rc1", "1.0", -1},
		{"tilde before empty", "~", "", -1},
		{"empty", "", "0.1", -1},
		{"prefix", "v2.0", "v10.0", -1},
		{"letter above digit", "a", "1", 1},
		{"dash before dot", "1-2", "1.2", -1},
		{"underscore after dot", "1_2", "1.2", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sign(Compare(tc.a, tc.b)); got != tc.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			if got := sign(Compare(tc.b, tc.a)); got != -tc.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tc.b, tc.a, got, -tc.want)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func TestSort(t *testing.T) {
	versions := []string{"cci.20231120", "1.15.0", "1.3.243.0", "11.0.2", "cci.20220112", "9.1.0", "1.3.243"}
	Sort(versions)
	want := []string{"1.3.243", "1.3.243.0", "1.15.0", "9.1.0", "11.0.2", "cci.20220112", "cci.20231120"}
	if !slices.Equal(versions, want) {
		t.Errorf("Sort() = %v, want %v", versions, want)
	}
}

func TestMax(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"3.4"}, "3.4"},
		{[]string{"3.3.2", "3.10.0", "3.9"}, "3.10.0"},
		{[]string{"24.8", "24.11", "23.11"}, "24.11"},
	}
	for _, tc := range tests {
		if got := Max(tc.in...); got != tc.want {
			t.Errorf("Max(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
