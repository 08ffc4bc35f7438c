package extract

import "testing"

func TestCleanColumnName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"UNITID", "UNITID"},
		{"Institution Name", "Institution_Name"},
		{"Total  revenue ($)", "Total_revenue"},
		{"tuition/fees", "tuition_fees"},
		{"__already_clean__", "already_clean"},
		{"a--b--c", "a_b_c"},
	}
	for _, tc := range cases {
		if got := cleanColumnName(tc.in); got != tc.want {
			t.Errorf("cleanColumnName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		value, want string
	}{
		{"42", TypeInteger},
		{"-17", TypeInteger},
		{"3.14", TypeFloat},
		{"-0.5", TypeFloat},
		{"1.2e10", TypeFloat},
		{".5e3", TypeFloat},
		{"true", TypeBoolean},
		{"FALSE", TypeBoolean},
		{"$1,234.56", TypeDecimal},
		{"$-500", TypeDecimal},
		{"2023-01-15", TypeTimestamp},
		{"2023-01-15 10:30:00", TypeTimestamp},
		{"01/02/2023 10:30:00", TypeTimestamp},
		{"Alabama A & M University", TypeString},
		{"", TypeString},
		{"  ", TypeString},
	}
	for _, tc := range cases {
		if got := inferType(tc.value); got != tc.want {
			t.Errorf("inferType(%q) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestInferColumnType(t *testing.T) {
	cases := []struct {
		name    string
		samples []string
		want    string
	}{
		{"all integers", []string{"1", "2", "3"}, TypeInteger},
		{"integers and floats widen", []string{"1", "2.5", "3"}, TypeFloat},
		{"integers and currency widen", []string{"100", "$1,200.00"}, TypeDecimal},
		{"mixed with text falls back", []string{"1", "2", "abc"}, TypeString},
		{"empty values ignored", []string{"", "5", ""}, TypeInteger},
		{"all empty", []string{"", "  "}, TypeString},
		{"no samples", nil, TypeString},
		{"bool then int falls back", []string{"true", "1"}, TypeString},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := inferColumnType(tc.samples); got != tc.want {
				t.Errorf("inferColumnType(%v) = %q, want %q", tc.samples, got, tc.want)
			}
		})
	}
}

func TestNormalizeCurrency(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"$1,234.56", "1234.56"},
		{"$-500", "-500"},
		{" $42 ", "42"},
	}
	for _, tc := range cases {
		if got := normalizeCurrency(tc.in); got != tc.want {
			t.Errorf("normalizeCurrency(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	if v, ok := parseBool("TRUE"); !ok || !v {
		t.Errorf("parseBool(TRUE) = %v, %v", v, ok)
	}
	if v, ok := parseBool(" false "); !ok || v {
		t.Errorf("parseBool(false) = %v, %v", v, ok)
	}
	if _, ok := parseBool("yes"); ok {
		t.Error("parseBool(yes) should not parse")
	}
}

func TestColumnSample(t *testing.T) {
	rows := [][]string{
		{"1", "a"},
		{"", "b"},
		{"3"},
		{"4", "d"},
	}
	got := columnSample(rows, 1, 10)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "d" {
		t.Errorf("columnSample = %v", got)
	}

	if got := columnSample(rows, 0, 2); len(got) != 2 {
		t.Errorf("expected sample capped at 2, got %v", got)
	}
}
