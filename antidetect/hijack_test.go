package antidetect

import "testing"

func TestIsAdDomain(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"doubleclick.net", true},
		{"ad.doubleclick.net", true},
		{"stats.g.doubleclick.net", true},
		{"GOOGLE-ANALYTICS.COM", true},
		{"connect.facebook.net", true},
		{"www.vinted.fr", false},
		{"example.com", false},
		{"notdoubleclick.net", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isAdDomain(tt.host); got != tt.want {
			t.Errorf("isAdDomain(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestResourceTypeNames(t *testing.T) {
	for _, name := range []string{"Image", "Stylesheet", "Font", "Media", "Script"} {
		if _, ok := resourceTypes[name]; !ok {
			t.Errorf("resource type %q not mapped", name)
		}
	}
	if _, ok := resourceTypes["Document"]; ok {
		t.Error("Document must never be blockable")
	}
}
