// Command meso-forge-mirror ingests conda packages from heterogeneous
// sources into a conda-compatible channel (spec.md §6). Subcommand dispatch
// and signal handling follow the teacher's cmd/cctool/main.go shape: a
// flag.FlagSet per subcommand, SIGINT/SIGTERM cancelling a context that the
// whole run observes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/config"
	"github.com/babeloff/meso-forge-mirror/mirror"
	"github.com/babeloff/meso-forge-mirror/platform"
	"github.com/babeloff/meso-forge-mirror/provider"
	"github.com/babeloff/meso-forge-mirror/provider/azure"
	"github.com/babeloff/meso-forge-mirror/provider/filesrc"
	"github.com/babeloff/meso-forge-mirror/provider/github"
	"github.com/babeloff/meso-forge-mirror/provider/tgzarchive"
	"github.com/babeloff/meso-forge-mirror/provider/urlsrc"
	"github.com/babeloff/meso-forge-mirror/provider/ziparchive"
	"github.com/babeloff/meso-forge-mirror/repodata"
	"github.com/babeloff/meso-forge-mirror/retrypolicy"
	"github.com/babeloff/meso-forge-mirror/selector"
	"github.com/babeloff/meso-forge-mirror/sink"
	"github.com/babeloff/meso-forge-mirror/sink/hostedchannel"
	"github.com/babeloff/meso-forge-mirror/sink/local"
	"github.com/babeloff/meso-forge-mirror/sink/s3"
)

// Exit codes (spec.md §6).
const (
	exitOK            = 0
	exitConfig        = 2
	exitNoMatch       = 3
	exitPartial       = 4
	exitFatal         = 5
	exitUnknownSubcmd = 99
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		usage()
		return exitUnknownSubcmd
	}

	switch args[0] {
	case "mirror":
		return runMirror(ctx, args[1:])
	case "info":
		return runInfo(ctx, args[1:])
	case "init":
		return runInit(args[1:])
	default:
		usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", args[0])
		return exitUnknownSubcmd
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <mirror|info|init> [flags]\n", os.Args[0])
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	output := fs.String("output", "meso-forge-mirror.json", "path to write the default configuration document")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if err := config.WriteDefault(*output); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	return exitOK
}

func runInfo(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	githubRepo := fs.String("github", "", "owner/repo to list GitHub Actions artifacts for")
	azureProject := fs.String("azure", "", "org/project to list Azure DevOps build artifacts for")
	buildID := fs.Int64("build-id", 0, "restrict to a single Azure build id, or a single GitHub artifact id")
	nameFilter := fs.String("name-filter", "", "regex restricting listed artifact names")
	excludeExpired := fs.Bool("exclude-expired", false, "drop artifacts GitHub has marked expired")
	cfgPath := fs.String("config", "", "path to a configuration document")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	var filterRe *regexp.Regexp
	if *nameFilter != "" {
		filterRe, err = regexp.Compile(*nameFilter)
		if err != nil {
			fmt.Fprintln(os.Stderr, "info: invalid --name-filter:", err)
			return exitConfig
		}
	}

	switch {
	case *githubRepo != "":
		owner, repo, ok := strings.Cut(*githubRepo, "/")
		if !ok {
			fmt.Fprintln(os.Stderr, "info: --github wants owner/repo")
			return exitConfig
		}
		p := github.New(cfg.GithubToken, owner, repo, nil)
		p.ArtifactID = *buildID
		p.NameFilter = filterRe
		p.ExcludeExpired = *excludeExpired
		arts, err := p.Artifacts(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return classifyExit(err)
		}
		for _, a := range arts {
			fmt.Printf("%d\t%s\t%d bytes\texpired=%v\n", a.GetID(), a.GetName(), a.GetSizeInBytes(), a.GetExpired())
		}
		return exitOK
	case *azureProject != "":
		org, project, ok := strings.Cut(*azureProject, "/")
		if !ok {
			fmt.Fprintln(os.Stderr, "info: --azure wants org/project")
			return exitConfig
		}
		p := azure.New(cfg.AzureDevopsToken, org, project, nil)
		p.BuildID = *buildID
		p.NameFilter = filterRe
		arts, resolvedBuildID, err := p.Artifacts(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return classifyExit(err)
		}
		for _, a := range arts {
			fmt.Printf("build=%d\t%s\t%s\n", resolvedBuildID, a.Name, a.Resource.DownloadURL)
		}
		return exitOK
	default:
		fmt.Fprintln(os.Stderr, "info: one of --github or --azure is required")
		return exitConfig
	}
}

func runMirror(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("mirror", flag.ContinueOnError)
	src := fs.String("src", "", "source spec (file path, URL, or owner/repo-like identifier)")
	srcType := fs.String("src-type", "", "source kind: file, url, zip, zip-url, tgz, tgz-url, github, azure")
	srcPath := fs.String("src-path", "", "selector regex; required for zip, zip-url, github, azure")
	tgt := fs.String("tgt", "", "target spec (directory path, bucket name, or base URL)")
	tgtType := fs.String("tgt-type", "", "target kind: local, s3, prefix-dev")
	cfgPath := fs.String("config", "", "path to a configuration document")
	cacheRoot := fs.String("cache-root", "", "optional Rattler-style cache mirror root (local target only)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	slog.Info("loaded configuration", "config", cfg.String())

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	source, err := buildSource(*srcType, *src, *srcPath, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	snk, err := buildSink(runCtx, *tgtType, *tgt, *cacheRoot, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	engine := &mirror.Engine{
		Resolver:      platform.New(),
		Index:         repodata.New(),
		Sink:          snk,
		Retry:         retrypolicy.New(uint(cfg.RetryAttempts)),
		MaxConcurrent: int(cfg.MaxConcurrentDownloads),
	}

	runErr := engine.Run(runCtx, []provider.Source{source})
	if runErr == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, runErr)
	return classifyExit(runErr)
}

func classifyExit(err error) int {
	var nm *condaerr.NoMatchError
	if errors.As(err, &nm) {
		return exitNoMatch
	}
	if errors.Is(err, condaerr.Auth) || errors.Is(err, condaerr.Config) {
		return exitFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return exitFatal
	}
	return exitPartial
}

func buildSource(kind, src, srcPath string, cfg config.Config) (provider.Source, error) {
	var sel *selector.Selector
	var err error
	if srcPath != "" {
		sel, err = selector.Compile(srcPath)
		if err != nil {
			return nil, fmt.Errorf("mirror: compiling --src-path: %w", err)
		}
	} else if kind == "tgz" || kind == "tgz-url" {
		// --src-path is optional for tgz/tgz-url (spec.md §6); an empty
		// pattern selects the first conda package entry encountered.
		sel, _ = selector.Compile("")
	}

	switch kind {
	case "file":
		if srcPath != "" {
			return nil, fmt.Errorf("mirror: --src-path is forbidden for --src-type file")
		}
		return filesrc.New(src), nil
	case "url":
		if srcPath != "" {
			return nil, fmt.Errorf("mirror: --src-path is forbidden for --src-type url")
		}
		return urlsrc.New(http.DefaultClient, src), nil
	case "zip":
		if sel == nil {
			return nil, fmt.Errorf("mirror: --src-path is required for --src-type zip")
		}
		return ziparchive.NewLocal(src, sel), nil
	case "zip-url":
		if sel == nil {
			return nil, fmt.Errorf("mirror: --src-path is required for --src-type zip-url")
		}
		return ziparchive.NewRemote(http.DefaultClient, src, sel), nil
	case "tgz":
		return tgzarchive.NewLocal(src, sel), nil
	case "tgz-url":
		return tgzarchive.NewRemote(http.DefaultClient, src, sel), nil
	case "github":
		if sel == nil {
			return nil, fmt.Errorf("mirror: --src-path is required for --src-type github")
		}
		owner, repo, ok := strings.Cut(src, "/")
		if !ok {
			return nil, fmt.Errorf("mirror: --src for github wants owner/repo[#artifact_id]")
		}
		var artifactID int64
		if repo2, idStr, ok := strings.Cut(repo, "#"); ok {
			repo = repo2
			artifactID, _ = strconv.ParseInt(idStr, 10, 64)
		}
		p := github.New(cfg.GithubToken, owner, repo, sel)
		p.ArtifactID = artifactID
		return p, nil
	case "azure":
		if sel == nil {
			return nil, fmt.Errorf("mirror: --src-path is required for --src-type azure")
		}
		org, project, ok := strings.Cut(src, "/")
		if !ok {
			return nil, fmt.Errorf("mirror: --src for azure wants org/project[#buildId]")
		}
		var buildID int64
		if project2, idStr, ok := strings.Cut(project, "#"); ok {
			project = project2
			buildID, _ = strconv.ParseInt(idStr, 10, 64)
		}
		p := azure.New(cfg.AzureDevopsToken, org, project, sel)
		p.BuildID = buildID
		return p, nil
	default:
		return nil, fmt.Errorf("mirror: unknown --src-type %q", kind)
	}
}

func buildSink(ctx context.Context, kind, tgt, cacheRoot string, cfg config.Config) (sink.Sink, error) {
	switch kind {
	case "local":
		s := local.New(tgt)
		s.CacheRoot = cacheRoot
		return s, nil
	case "s3":
		return s3.New(ctx, tgt, "", cfg.S3Region, cfg.S3Endpoint, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	case "prefix-dev":
		return hostedchannel.New(http.DefaultClient, tgt, os.Getenv("PREFIX_DEV_TOKEN")), nil
	default:
		return nil, fmt.Errorf("mirror: unknown --tgt-type %q", kind)
	}
}
