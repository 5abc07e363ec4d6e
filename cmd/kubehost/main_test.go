package main

import (
	"bytes"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	apiclient "github.com/splax/kubehost/pkg/api/client"
)

func init() {
	color.NoColor = true
}

func TestLeadingName(t *testing.T) {
	cases := []struct {
		args     []string
		wantName string
		wantRest int
	}{
		{[]string{"shop", "--yaml"}, "shop", 1},
		{[]string{"--yaml", "shop"}, "", 2},
		{nil, "", 0},
	}
	for _, tc := range cases {
		name, rest := leadingName(tc.args)
		if name != tc.wantName || len(rest) != tc.wantRest {
			t.Fatalf("leadingName(%v) = %q, %v", tc.args, name, rest)
		}
	}
}

func TestRequireNameFallsBackToPositional(t *testing.T) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	yaml := fs.Bool("yaml", false, "")
	if err := fs.Parse([]string{"--yaml", "shop"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	name, err := requireName(fs, "")
	if err != nil || name != "shop" || !*yaml {
		t.Fatalf("got %q, %v", name, err)
	}

	empty := flag.NewFlagSet("delete", flag.ContinueOnError)
	_ = empty.Parse(nil)
	if _, err := requireName(empty, ""); err == nil || !strings.Contains(err.Error(), "kubehost delete <app>") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestPrintApps(t *testing.T) {
	var buf bytes.Buffer
	printApps(&buf, []apiclient.App{{
		Name:         "shop",
		DetectedType: "python",
		Status:       "ready",
		URL:          "http://shop.localhost",
		UpdatedAt:    time.Now().Add(-3 * time.Minute),
	}})
	out := buf.String()
	for _, want := range []string{"NAME", "STATUS", "shop", "python", "ready", "http://shop.localhost", "3m"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printApps(&buf, nil)
	if !strings.Contains(buf.String(), "no apps deployed") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}
}

func TestPrintSnapshot(t *testing.T) {
	snap := apiclient.Snapshot{
		App:            "shop",
		Namespace:      "app-shop",
		NamespacePhase: "Active",
		Resources: []apiclient.ResourceGroup{
			{Kind: "Deployment", Items: []map[string]any{{
				"metadata": map[string]any{"name": "shop"},
				"spec":     map[string]any{"replicas": float64(2)},
				"status":   map[string]any{"readyReplicas": float64(1)},
			}}},
			{Kind: "Pod", Items: []map[string]any{{
				"metadata": map[string]any{"name": "shop-abc"},
				"status":   map[string]any{"phase": "Running"},
			}}},
			{Kind: "Ingress", Error: "forbidden"},
		},
	}
	var buf bytes.Buffer
	printSnapshot(&buf, snap)
	out := buf.String()
	for _, want := range []string{"namespace app-shop Active", "1/2 ready", "shop-abc", "Running", "unavailable: forbidden"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReportDeploy(t *testing.T) {
	var buf bytes.Buffer
	if err := reportDeploy(&buf, apiclient.App{Name: "shop", Status: "ready", URL: "http://shop.localhost"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "shop is ready") || !strings.Contains(buf.String(), "http://shop.localhost") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	err := reportDeploy(&buf, apiclient.App{Name: "shop", Status: "failed", LastError: "build: exit status 1"})
	if err == nil || err.Error() != "build: exit status 1" {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestPrintScaleWarnsAboutAutoscaler(t *testing.T) {
	var buf bytes.Buffer
	printScale(&buf, apiclient.ScaleResult{App: "shop", Previous: 1, Replicas: 3, AutoscalerManaged: true, AutoscalerMin: 1, AutoscalerMax: 5})
	out := buf.String()
	if !strings.Contains(out, "from 1 to 3") || !strings.Contains(out, "(1-5 replicas)") {
		t.Fatalf("unexpected output %q", out)
	}
}
