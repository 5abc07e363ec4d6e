package manifest

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/splax/kubehost/internal/domain"
)

// PortSource says where a resolved port came from.
type PortSource string

const (
	PortFromDockerfile PortSource = "dockerfile"
	PortFromType       PortSource = "type-default"
)

// DefaultPort returns the conventional listen port for an app type.
func DefaultPort(t domain.AppType) int32 {
	switch t {
	case domain.AppTypeNodeJS, domain.AppTypeNextJS:
		return 3000
	case domain.AppTypePython:
		return 8000
	default:
		return 80
	}
}

// HealthPath returns the probe path for an app type.
func HealthPath(t domain.AppType) string {
	if t == domain.AppTypePython {
		return "/health"
	}
	return "/"
}

// ResolvePort uses the first valid EXPOSE in appPath's Dockerfile, falling
// back to the type default when there is none or it cannot be parsed.
func ResolvePort(appPath string, t domain.AppType) (int32, PortSource) {
	if appPath != "" {
		if data, err := os.ReadFile(filepath.Join(appPath, "Dockerfile")); err == nil {
			if port, ok := ExposedPort(data); ok {
				return port, PortFromDockerfile
			}
		}
	}
	return DefaultPort(t), PortFromType
}

// ExposedPort returns the first port of the first EXPOSE directive that parses.
// Forms like "EXPOSE 4000", "EXPOSE 4000/tcp" and "EXPOSE 4000 9229" are accepted;
// variable references such as $PORT are not resolvable and are ignored.
func ExposedPort(dockerfile []byte) (int32, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(dockerfile))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "EXPOSE") {
			continue
		}
		for _, spec := range fields[1:] {
			if spec == "\\" {
				continue
			}
			_, rawPort := nat.SplitProtoPort(spec)
			start, _, err := nat.ParsePortRange(rawPort)
			if err != nil || start == 0 || start > 65535 {
				continue
			}
			return int32(start), true
		}
	}
	return 0, false
}
