package naming

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/splax/kubehost/internal/domain"
)

var validName = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already valid", in: "my-app", want: "my-app"},
		{name: "uppercase", in: "MyApp", want: "myapp"},
		{name: "spaces and symbols", in: "My Cool_App!", want: "my-cool-app"},
		{name: "collapse runs", in: "a---b__c", want: "a-b-c"},
		{name: "trim edges", in: "--hello--", want: "hello"},
		{name: "unicode", in: "café app", want: "caf-app"},
		{name: "dots", in: "api.v2", want: "api-v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.in)
			if err != nil {
				t.Fatalf("Sanitize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	in := strings.Repeat("a", 62) + "-bcdef"
	got, err := Sanitize(in)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if len(got) > MaxLength {
		t.Fatalf("expected at most %d chars, got %d", MaxLength, len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Fatalf("truncated name must not end with '-': %q", got)
	}
}

func TestSanitizeIdempotentAndTotal(t *testing.T) {
	inputs := []string{
		"x", "Hello World", "__a__", "ÄÖÜ-1", "a" + strings.Repeat("-b", 80),
		"node.js app", "UPPER_lower-09", strings.Repeat("z", 100), "1", "-9-",
	}
	for _, in := range inputs {
		once, err := Sanitize(in)
		if err != nil {
			t.Fatalf("Sanitize(%q): %v", in, err)
		}
		if !validName.MatchString(once) {
			t.Fatalf("Sanitize(%q) = %q is not a valid name", in, once)
		}
		if len(once) > MaxLength {
			t.Fatalf("Sanitize(%q) too long: %d", in, len(once))
		}
		if strings.Contains(once, "--") {
			t.Fatalf("Sanitize(%q) = %q contains repeated dashes", in, once)
		}
		twice, err := Sanitize(once)
		if err != nil {
			t.Fatalf("Sanitize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestSanitizeEmpty(t *testing.T) {
	for _, in := range []string{"", "---", "!!!", "   "} {
		if _, err := Sanitize(in); !errors.Is(err, domain.ErrAppNameInvalid) {
			t.Fatalf("Sanitize(%q) expected ErrAppNameInvalid, got %v", in, err)
		}
	}
}

func TestNamespaceRoundTrip(t *testing.T) {
	ns, err := Namespace("Shop Front")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	if ns != "app-shop-front" {
		t.Fatalf("unexpected namespace %q", ns)
	}
	if got := NameFromNamespace(ns); got != "shop-front" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := URL("shop-front"); got != "http://shop-front.localhost" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"shop", true},
		{strings.Repeat("a", 59), true},
		{strings.Repeat("a", 60), false},
		{strings.Repeat("a", MaxLength), false},
		{"9lives", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.name)
			if tt.ok && err != nil {
				t.Fatalf("Validate(%q) unexpected error: %v", tt.name, err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrAppNameInvalid) {
				t.Fatalf("Validate(%q) expected ErrAppNameInvalid, got %v", tt.name, err)
			}
		})
	}

	long, err := Sanitize(strings.Repeat("a", 70))
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if len(long) != MaxLength {
		t.Fatalf("expected sanitized name truncated to %d, got %d", MaxLength, len(long))
	}
	if err := Validate(long); !errors.Is(err, domain.ErrAppNameInvalid) {
		t.Fatalf("expected derived names of a %d character app to be rejected, got %v", len(long), err)
	}
}
