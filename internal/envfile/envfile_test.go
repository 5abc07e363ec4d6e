package envfile

import (
	"reflect"
	"testing"

	"github.com/splax/kubehost/internal/domain"
)

func TestParseDotenv(t *testing.T) {
	got := ParseDotenv("FOO=bar\n# comment\nBAZ=\nEMPTY_KEY_ONLY=1\n=novalue")
	want := []domain.EnvVar{{Name: "FOO", Value: "bar"}, {Name: "EMPTY_KEY_ONLY", Value: "1"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseDotenv = %#v, want %#v", got, want)
	}
}

func TestParseDotenvQuotesAndDuplicates(t *testing.T) {
	raw := `
export API_URL="http://api.local"
SECRET='s3 cret'
EMPTY_QUOTED=""
NO_EQUALS
  SPACED  =  value
API_URL=http://override
`
	got := ParseDotenv(raw)
	want := []domain.EnvVar{
		{Name: "API_URL", Value: "http://override"},
		{Name: "SECRET", Value: "s3 cret"},
		{Name: "SPACED", Value: "value"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseDotenv = %#v, want %#v", got, want)
	}
}

func TestParseDotenvEmpty(t *testing.T) {
	if got := ParseDotenv(""); len(got) != 0 {
		t.Fatalf("expected no vars, got %#v", got)
	}
}

func TestPortHints(t *testing.T) {
	hints := PortHints([]domain.EnvVar{{Name: "PORT", Value: "8080"}, {Name: "DB_PORT", Value: "5432"}, {Name: "HOST", Value: "x"}})
	if len(hints) != 2 || hints["PORT"] != "8080" || hints["DB_PORT"] != "5432" {
		t.Fatalf("unexpected hints %#v", hints)
	}
}
