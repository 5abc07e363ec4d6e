package dockerfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/manifest"
)

// Template renders fixed multi-stage Dockerfiles per app type.
type Template struct{}

func (Template) Name() string { return "template" }

func (Template) Generate(_ context.Context, in Input) (string, error) {
	switch in.AppType {
	case domain.AppTypeNodeJS, domain.AppTypeNextJS:
		return renderNode(in.AppType, detectPackageManager(in.Dir), port(in)), nil
	case domain.AppTypePython:
		return renderPython(in.Dir, port(in)), nil
	case domain.AppTypeStatic:
		return renderStatic(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, in.AppType)
	}
}

// port prefers a numeric PORT hint over the type default.
func port(in Input) int32 {
	if v, ok := in.PortHints["PORT"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 && n < 65536 {
			return int32(n)
		}
	}
	return manifest.DefaultPort(in.AppType)
}

type packageManager string

const (
	pmNPM  packageManager = "npm"
	pmYarn packageManager = "yarn"
	pmPNPM packageManager = "pnpm"
)

func detectPackageManager(dir string) packageManager {
	switch {
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return pmYarn
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return pmPNPM
	default:
		return pmNPM
	}
}

func renderNode(t domain.AppType, pm packageManager, port int32) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM node:20-bullseye AS deps\n")
	b.WriteString("WORKDIR /app\n")
	switch pm {
	case pmYarn:
		b.WriteString("COPY package.json yarn.lock ./\n")
		b.WriteString("RUN corepack enable && yarn install --frozen-lockfile\n\n")
	case pmPNPM:
		b.WriteString("COPY package.json pnpm-lock.yaml ./\n")
		b.WriteString("RUN corepack enable && pnpm install --frozen-lockfile\n\n")
	default:
		b.WriteString("COPY package*.json ./\n")
		b.WriteString("RUN if [ -f package-lock.json ]; then npm ci; else npm install; fi\n\n")
	}
	b.WriteString("FROM node:20-bullseye-slim\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY --from=deps /app/node_modules ./node_modules\n")
	b.WriteString("COPY . ./\n")
	if t == domain.AppTypeNextJS {
		b.WriteString("ENV NEXT_TELEMETRY_DISABLED=1\n")
		b.WriteString("RUN npm run build\n")
	}
	b.WriteString("ENV NODE_ENV=production\n")
	fmt.Fprintf(&b, "ENV PORT=%d\n", port)
	fmt.Fprintf(&b, "EXPOSE %d\n", port)
	b.WriteString("CMD [\"npm\",\"start\"]\n")
	return b.String()
}

func renderPython(dir string, port int32) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM python:3.12-slim AS deps\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("RUN python -m venv /venv\n")
	b.WriteString("ENV PATH=/venv/bin:$PATH\n")
	if fileExists(filepath.Join(dir, "requirements.txt")) {
		b.WriteString("COPY requirements.txt ./\n")
		b.WriteString("RUN pip install --no-cache-dir -r requirements.txt\n\n")
	} else {
		b.WriteString("COPY . ./\n")
		b.WriteString("RUN pip install --no-cache-dir .\n\n")
	}
	b.WriteString("FROM python:3.12-slim\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY --from=deps /venv /venv\n")
	b.WriteString("ENV PATH=/venv/bin:$PATH PYTHONUNBUFFERED=1\n")
	b.WriteString("COPY . ./\n")
	fmt.Fprintf(&b, "ENV PORT=%d\n", port)
	fmt.Fprintf(&b, "EXPOSE %d\n", port)
	fmt.Fprintf(&b, "CMD [\"sh\",\"-c\",\"if [ -f main.py ]; then exec python main.py; else exec python -m http.server %d; fi\"]\n", port)
	return b.String()
}

func renderStatic() string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM busybox:1.36 AS content\n")
	b.WriteString("WORKDIR /site\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("RUN rm -f Dockerfile .env\n\n")
	b.WriteString("FROM nginx:1.27-alpine\n")
	b.WriteString("COPY --from=content /site /usr/share/nginx/html\n")
	b.WriteString("EXPOSE 80\n")
	return b.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
