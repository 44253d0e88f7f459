package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer abc", "abc", false},
		{"Bearer   spaced  ", "spaced", false},
		{"Basic dXNlcg==", "", true},
		{"Bearer ", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.header, err)
		}
		if token != tc.token {
			t.Fatalf("header %q: expected %q, got %q", tc.header, tc.token, token)
		}
	}
}
