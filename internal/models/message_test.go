package models

import (
	"encoding/json"
	"testing"
)

// TestJSONDocument tests which bodies are kept and which are wrapped
func TestJSONDocument(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"json object", `{"error":{"code":190}}`, `{"error":{"code":190}}`},
		{"html page", "<html>502</html>", `{"raw":"\u003chtml\u003e502\u003c/html\u003e"}`},
		{"plain text", "upstream down", `{"raw":"upstream down"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := JSONDocument([]byte(tc.raw))

			if string(got) != tc.want {
				t.Errorf("Expected %q but got %q", tc.want, got)
			}
			if len(got) > 0 && !json.Valid(got) {
				t.Errorf("Expected valid JSON but got %q", got)
			}
		})
	}
}
