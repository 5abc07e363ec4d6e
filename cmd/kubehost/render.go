package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	apiclient "github.com/splax/kubehost/pkg/api/client"
)

var (
	successString = color.New(color.Bold, color.FgHiGreen).SprintfFunc()
	failureString = color.New(color.Bold, color.FgHiRed).SprintfFunc()
	warningString = color.YellowString
	idString      = color.HiCyanString
	faintString   = color.New(color.FgHiBlack).SprintfFunc()
)

func statusString(status string) string {
	switch status {
	case "ready", "Active", "Running", "up":
		return color.GreenString("%s", status)
	case "failed", "Failed", "down":
		return color.RedString("%s", status)
	case "":
		return faintString("-")
	default:
		return color.YellowString("%s", status)
	}
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	for i, h := range headers {
		headers[i] = strings.ToUpper(h)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetRowLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printApps(w io.Writer, apps []apiclient.App) {
	if len(apps) == 0 {
		fmt.Fprintln(w, "no apps deployed")
		return
	}
	table := newTable(w, "name", "type", "status", "url", "updated")
	for _, a := range apps {
		table.Append([]string{a.Name, orDash(a.DetectedType), statusString(a.Status), orDash(a.URL), age(a.UpdatedAt)})
	}
	table.Render()
}

func printClusterApps(w io.Writer, apps []apiclient.ClusterApp) {
	if len(apps) == 0 {
		fmt.Fprintln(w, "no app namespaces in the cluster")
		return
	}
	table := newTable(w, "name", "namespace", "phase", "age")
	for _, a := range apps {
		table.Append([]string{a.Name, a.Namespace, statusString(a.Phase), age(a.CreatedAt)})
	}
	table.Render()
}

func printRecord(w io.Writer, app apiclient.App) {
	fmt.Fprintf(w, "app %s (%s) %s\n", idString("%s", app.Name), orDash(app.DetectedType), statusString(app.Status))
	if app.URL != "" {
		fmt.Fprintf(w, "url: %s\n", app.URL)
	}
	if app.ImageTag != "" {
		fmt.Fprintf(w, "image: %s\n", app.ImageTag)
	}
	if app.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", failureString("%s", app.LastError))
	}
	fmt.Fprintln(w)
}

func printSnapshot(w io.Writer, snap apiclient.Snapshot) {
	fmt.Fprintf(w, "namespace %s %s\n", snap.Namespace, statusString(snap.NamespacePhase))
	table := newTable(w, "kind", "name", "state")
	rows := 0
	for _, group := range snap.Resources {
		if group.Error != "" {
			table.Append([]string{group.Kind, "-", warningString("unavailable: %s", group.Error)})
			rows++
			continue
		}
		for _, item := range group.Items {
			table.Append([]string{group.Kind, itemName(item), statusString(itemState(group.Kind, item))})
			rows++
		}
	}
	if rows == 0 {
		fmt.Fprintln(w, "no resources")
		return
	}
	table.Render()
}

func itemName(item map[string]any) string {
	meta, _ := item["metadata"].(map[string]any)
	name, _ := meta["name"].(string)
	return orDash(name)
}

// itemState summarises an object's status block in a single word or ratio.
func itemState(kind string, item map[string]any) string {
	status, _ := item["status"].(map[string]any)
	spec, _ := item["spec"].(map[string]any)
	switch kind {
	case "Deployment":
		return fmt.Sprintf("%s/%s ready", number(status["readyReplicas"]), number(spec["replicas"]))
	case "Pod":
		phase, _ := status["phase"].(string)
		return phase
	case "HorizontalPodAutoscaler":
		return fmt.Sprintf("%s-%s replicas", number(spec["minReplicas"]), number(spec["maxReplicas"]))
	default:
		return ""
	}
}

func number(v any) string {
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%d", int64(n))
	case int64:
		return fmt.Sprintf("%d", n)
	case int:
		return fmt.Sprintf("%d", n)
	default:
		return "0"
	}
}

func printScale(w io.Writer, res apiclient.ScaleResult) {
	fmt.Fprintln(w, successString("scaled %s from %d to %d replicas", res.App, res.Previous, res.Replicas))
	if res.AutoscalerManaged {
		fmt.Fprintln(w, warningString("an autoscaler manages %s (%d-%d replicas) and may override this", res.App, res.AutoscalerMin, res.AutoscalerMax))
	}
	if res.Warning != "" {
		fmt.Fprintln(w, warningString("%s", res.Warning))
	}
}

func printHealth(w io.Writer, health apiclient.Health) {
	names := make([]string, 0, len(health.Components))
	for name := range health.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	table := newTable(w, "component", "status", "error")
	for _, name := range names {
		c := health.Components[name]
		table.Append([]string{name, statusString(c["status"]), orDash(c["error"])})
	}
	table.Render()
}

// reportDeploy prints the final record of a deploy and returns an error when
// it failed.
func reportDeploy(w io.Writer, app apiclient.App) error {
	if app.Status == "failed" {
		fmt.Fprintln(w, failureString("deploy of %s failed", app.Name))
		if app.LastError == "" {
			return errors.New("deploy failed")
		}
		return errors.New(app.LastError)
	}
	fmt.Fprintln(w, successString("%s is ready", app.Name))
	if app.URL != "" {
		fmt.Fprintf(w, "url: %s\n", app.URL)
	}
	return nil
}
