package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"splitux/pkg/audio"
	"splitux/pkg/backend"
	"splitux/pkg/cli"
	"splitux/pkg/command"
	"splitux/pkg/common"
	"splitux/pkg/config"
	"splitux/pkg/devices"
	"splitux/pkg/disk"
	"splitux/pkg/display"
	"splitux/pkg/downloader"
	"splitux/pkg/installer"
	"splitux/pkg/launch"
	"splitux/pkg/modrepo"
	"splitux/pkg/overlay"
	"splitux/pkg/profile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	res, err := Splitux(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(res.ExitCode)
}

func Splitux(ctx context.Context, args []string) (*cli.ExecutionResult, error) {
	// 1. Global flags end at the first command word.
	global := pflag.NewFlagSet("splitux", pflag.ContinueOnError)
	global.SetInterspersed(false)
	verbose := global.BoolP("verbose", "v", false, "verbose logging")
	noColor := global.Bool("no-color", false, "disable colored output")
	rest := []string{"--help"}
	if err := global.Parse(args); err == nil {
		rest = global.Args()
	} else if !errors.Is(err, pflag.ErrHelp) {
		return nil, err
	}

	// 2. Initialize console and verbosity.
	disp := display.NewConsole()
	defer disp.Close()
	if *verbose {
		disp.SetVerbose(true)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	theme := cli.DefaultTheme()
	if *noColor {
		theme = cli.PlainTheme()
	}

	// 3. Configuration and managers.
	sysCfg, err := config.Init()
	if err != nil {
		return nil, fmt.Errorf("error initializing config: %w", err)
	}

	dl := downloader.NewDefaultDownloader()
	repo, err := modrepo.NewClient(sysCfg.GetModRepo(), dl)
	if err != nil {
		return nil, fmt.Errorf("INTERNAL ERROR: mod repository client: %w", err)
	}
	runner := common.ExecRunner{}
	profiles := profile.NewManager(sysCfg)

	launcher := launch.NewManager(sysCfg, launch.Deps{
		Profiles: profiles,
		Mounts:   overlay.NewManager(sysCfg, runner),
		Sinks:    audio.NewManager(sysCfg, runner),
		Builder:  command.NewBuilder(sysCfg),
		Blocker:  devices.Blocker{Enum: devices.GlobEnumerator{}},
		Spawner:  launch.ExecSpawner{},
		Backends: backend.Deps{
			Source:    repo,
			Installer: installer.New(dl, disp),
			Plan: func(p installer.Package) (*installer.Plan, error) {
				return installer.NewPlan(sysCfg, p)
			},
		},
	})

	managers := &cli.Managers{
		Disp:     disp,
		SysCfg:   sysCfg,
		Profiles: profiles,
		DiskMgr:  disk.NewManager(sysCfg),
		Launcher: launcher,
		Theme:    theme,
	}

	// 4. Execute.
	return cli.Root(ctx, managers, os.Stdout).Execute(os.Stdout, rest)
}
