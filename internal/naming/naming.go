// Package naming turns user supplied app names into identifiers that are valid
// Kubernetes object and namespace names.
package naming

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/splax/kubehost/internal/domain"
)

const (
	// MaxLength is the DNS-1123 label limit.
	MaxLength = 63

	// NamespacePrefix is prepended to the sanitized name to form the app namespace.
	NamespacePrefix = "app-"

	// ServiceSuffix is appended to the sanitized name to form the Service name.
	ServiceSuffix = "-svc"
)

// Sanitize lowercases name, replaces anything outside [a-z0-9-] with '-',
// collapses runs of '-', trims '-' from both ends and truncates to 63 characters.
func Sanitize(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := false
	for _, r := range strings.ToLower(name) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !valid {
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
			continue
		}
		b.WriteRune(r)
		lastDash = false
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > MaxLength {
		out = strings.TrimRight(out[:MaxLength], "-")
	}
	if out == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrAppNameInvalid, name)
	}
	return out, nil
}

// Namespace returns the namespace owning every resource of the app.
func Namespace(name string) (string, error) {
	sanitized, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	return NamespacePrefix + sanitized, nil
}

// ServiceName is the name of the app's Service.
func ServiceName(name string) string {
	return name + ServiceSuffix
}

// Validate checks that the names derived from a sanitized app name are
// acceptable to the API server. Sanitize allows 63 characters, but the
// namespace and Service names add a prefix or suffix and must fit a label.
func Validate(name string) error {
	if errs := validation.IsDNS1123Label(NamespacePrefix + name); len(errs) > 0 {
		return fmt.Errorf("%w: namespace %s%s: %s", domain.ErrAppNameInvalid, NamespacePrefix, name, strings.Join(errs, "; "))
	}
	if errs := validation.IsDNS1035Label(ServiceName(name)); len(errs) > 0 {
		return fmt.Errorf("%w: service %s: %s", domain.ErrAppNameInvalid, ServiceName(name), strings.Join(errs, "; "))
	}
	return nil
}

// NameFromNamespace reverses Namespace for namespaces carrying the app prefix.
func NameFromNamespace(namespace string) string {
	return strings.TrimPrefix(namespace, NamespacePrefix)
}

// URL is the ingress endpoint of a sanitized app name.
func URL(name string) string {
	return "http://" + Host(name)
}

// Host is the ingress host rule of a sanitized app name.
func Host(name string) string {
	return name + ".localhost"
}
