package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/splax/kubehost/internal/envfile"
	apiclient "github.com/splax/kubehost/pkg/api/client"
	"golang.org/x/term"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "deploy":
		err = commandDeploy(args)
	case "list", "ls":
		err = commandList(args)
	case "status":
		err = commandStatus(args)
	case "delete", "rm":
		err = commandDelete(args)
	case "scale":
		err = commandScale(args)
	case "manifests":
		err = commandManifests(args)
	case "health":
		err = commandHealth(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failureString("error:"), err)
		os.Exit(1)
	}
}

func apiFlag(fs *flag.FlagSet) *string {
	return fs.String("api", "", "kubehostd base URL (default $KUBEHOST_API or "+apiclient.DefaultBaseURL+")")
}

func newClient(api string) (*apiclient.Client, error) {
	base := strings.TrimSpace(api)
	if base == "" {
		base = os.Getenv("KUBEHOST_API")
	}
	return apiclient.New(base)
}

// leadingName splits "status shop --yaml" style arguments so the app name
// may come before the flags.
func leadingName(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func requireName(fs *flag.FlagSet, name string) (string, error) {
	if name == "" {
		name = fs.Arg(0)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("usage: kubehost %s <app>", fs.Name())
	}
	return name, nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	name := fs.String("name", "", "App name")
	repo := fs.String("repo", "", "Git repository URL or local path")
	branch := fs.String("branch", "", "Branch to check out")
	path := fs.String("path", "", "App directory (inside the repo when --repo is set)")
	appType := fs.String("type", "", "App type override (python|nodejs|nextjs|static)")
	envFile := fs.String("env-file", "", "Dotenv file with environment variables")
	wait := fs.Bool("wait", true, "Wait for the deploy to finish")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum time to wait")
	api := apiFlag(fs)
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*repo) == "" && strings.TrimSpace(*path) == "" {
		return errors.New("--repo or --path is required")
	}

	input := apiclient.DeployInput{
		AppName:   *name,
		SourceRef: *repo,
		Branch:    *branch,
		AppPath:   *path,
		AppType:   *appType,
	}
	if *envFile != "" {
		raw, err := os.ReadFile(*envFile)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		input.EnvVars = string(raw)
		fmt.Printf("sending %d environment variables from %s\n", len(envfile.ParseDotenv(input.EnvVars)), *envFile)
	}

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	submitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := client.Deploy(submitCtx, input)
	cancel()
	if err != nil {
		return err
	}
	fmt.Printf("deploy queued: %s attempt=%s\n", idString("%s", app.Name), app.AttemptID)
	if !*wait {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	if interactive {
		s.Suffix = fmt.Sprintf(" %s is %s...", app.Name, app.Status)
		s.Start()
	}
	last := app.Status
	final, err := client.WaitFor(ctx, app.Name, app.AttemptID, 2*time.Second, func(a apiclient.App) {
		if a.AttemptID != app.AttemptID || a.Status == last {
			return
		}
		last = a.Status
		if interactive {
			s.Suffix = fmt.Sprintf(" %s is %s...", a.Name, a.Status)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", a.Name, a.Status)
		}
	})
	if interactive {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", app.Name, err)
	}
	return reportDeploy(os.Stdout, final)
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	clusterView := fs.Bool("cluster", false, "List app namespaces found in the cluster instead of the registry")
	api := apiFlag(fs)
	fs.Parse(args)

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if *clusterView {
		apps, err := client.ClusterApps(ctx)
		if err != nil {
			return err
		}
		printClusterApps(os.Stdout, apps)
		return nil
	}
	apps, err := client.ListApps(ctx)
	if err != nil {
		return err
	}
	printApps(os.Stdout, apps)
	return nil
}

func commandStatus(args []string) error {
	name, rest := leadingName(args)
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asYAML := fs.Bool("yaml", false, "Print the raw resources as YAML")
	api := apiFlag(fs)
	fs.Parse(rest)
	app, err := requireName(fs, name)
	if err != nil {
		return err
	}

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *asYAML {
		out, err := client.StatusYAML(ctx, app)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}
	if record, err := client.GetApp(ctx, app); err == nil {
		printRecord(os.Stdout, record)
	} else if !apiclient.IsNotFound(err) {
		return err
	}
	snap, err := client.Status(ctx, app)
	if err != nil {
		return err
	}
	printSnapshot(os.Stdout, snap)
	return nil
}

func commandDelete(args []string) error {
	name, rest := leadingName(args)
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	api := apiFlag(fs)
	fs.Parse(rest)
	app, err := requireName(fs, name)
	if err != nil {
		return err
	}

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := client.DeleteApp(ctx, app); err != nil {
		return err
	}
	fmt.Println(successString("app %s deleted", app))
	return nil
}

func commandScale(args []string) error {
	name, rest := leadingName(args)
	fs := flag.NewFlagSet("scale", flag.ExitOnError)
	replicas := fs.Int("replicas", -1, "Desired replica count")
	api := apiFlag(fs)
	fs.Parse(rest)
	app, err := requireName(fs, name)
	if err != nil {
		return err
	}
	if *replicas < 0 {
		return errors.New("--replicas is required")
	}

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := client.Scale(ctx, app, int32(*replicas))
	if err != nil {
		return err
	}
	printScale(os.Stdout, res)
	return nil
}

func commandManifests(args []string) error {
	name, rest := leadingName(args)
	fs := flag.NewFlagSet("manifests", flag.ExitOnError)
	appType := fs.String("type", "", "App type to render for")
	image := fs.String("image", "", "Image reference to render with")
	api := apiFlag(fs)
	fs.Parse(rest)
	app, err := requireName(fs, name)
	if err != nil {
		return err
	}

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out, err := client.Manifests(ctx, app, *appType, *image)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func commandHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	api := apiFlag(fs)
	fs.Parse(args)

	client, err := newClient(*api)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if len(health.Components) > 0 {
		printHealth(os.Stdout, health)
	}
	return err
}

func printUsage() {
	fmt.Printf("kubehost CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	kubehost deploy --name <app> (--repo <url|path> | --path <dir>) [--branch b] [--type t] [--env-file .env] [--wait=false]
	kubehost list [--cluster]
	kubehost status <app> [--yaml]
	kubehost delete <app>
	kubehost scale <app> --replicas N
	kubehost manifests <app> [--type t] [--image ref]
	kubehost health
	kubehost version

Every command accepts --api <url>; KUBEHOST_API is used when it is unset.
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
