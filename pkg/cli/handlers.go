package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"splitux/pkg/config"
	"splitux/pkg/display"
	"splitux/pkg/handler"
	"splitux/pkg/instance"
	"splitux/pkg/launch"
)

type sessionParams struct {
	Roster string
}

func (p *sessionParams) flags(name string) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
		fs.StringVarP(&p.Roster, "roster", "r", "roster.yaml", "instance roster file")
		return fs
	}
}

// Root builds the command tree. Output that is not logging goes to out.
func Root(ctx context.Context, m *Managers, out io.Writer) *Command {
	var launchParams, planParams sessionParams
	return &Command{
		Name:    "splitux",
		Summary: "Run several copies of one game side by side, each with its own identity, input and saves.",
		Subcommands: []*Command{
			{
				Name:     "launch",
				Summary:  "Launch every roster instance and wait for them to exit",
				Usage:    "<handler.yaml> [flags]",
				Examples: []string{"splitux launch handlers/terraria.yaml -r couch.yaml"},
				Flags:    launchParams.flags("launch"),
				Run: func(args []string) (*ExecutionResult, error) {
					return runLaunch(ctx, m, out, args, &launchParams, launch.Options{})
				},
			},
			{
				Name:    "plan",
				Summary: "Print every instance's command without mounting or spawning",
				Usage:   "<handler.yaml> [flags]",
				Flags:   planParams.flags("plan"),
				Run: func(args []string) (*ExecutionResult, error) {
					return runLaunch(ctx, m, out, args, &planParams, launch.Options{DryRun: true})
				},
			},
			{
				Name:    "master",
				Summary: "Show or change the master profile",
				Subcommands: []*Command{
					{Name: "get", Summary: "Print the master profile", Run: func(args []string) (*ExecutionResult, error) {
						return runMasterGet(m, out)
					}},
					{Name: "set", Summary: "Designate a named profile as master", Usage: "<profile>", Run: func(args []string) (*ExecutionResult, error) {
						return runMasterSet(m, out, args)
					}},
					{Name: "clear", Summary: "Remove the master designation", Run: func(args []string) (*ExecutionResult, error) {
						return runMasterClear(m, out)
					}},
				},
			},
			{
				Name:    "profiles",
				Summary: "List named profiles",
				Run: func(args []string) (*ExecutionResult, error) {
					return runProfiles(m, out)
				},
			},
			{
				Name:    "disk",
				Summary: "Inspect and clean local storage",
				Subcommands: []*Command{
					{Name: "info", Summary: "Show disk usage", Run: func(args []string) (*ExecutionResult, error) {
						return runDiskInfo(m)
					}},
					{Name: "clean", Summary: "Empty the package caches", Run: func(args []string) (*ExecutionResult, error) {
						return runDiskClean(m, out)
					}},
				},
			},
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) (*ExecutionResult, error) {
					fmt.Fprintln(out, config.GetBuildInfo())
					return &ExecutionResult{ExitCode: 0}, nil
				},
			},
		},
	}
}

func runLaunch(ctx context.Context, m *Managers, out io.Writer, args []string, p *sessionParams, opts launch.Options) (*ExecutionResult, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected one handler file, got %d arguments", len(args))
	}
	h, err := handler.Load(args[0])
	if err != nil {
		return nil, err
	}
	r, err := instance.LoadRoster(p.Roster)
	if err != nil {
		return nil, err
	}

	report, err := m.Launcher.Run(ctx, h, r, opts)
	if err != nil {
		var cerr *handler.ConfigError
		if errors.As(err, &cerr) {
			return nil, fmt.Errorf("handler %s is not usable:\n%w", h.Name, err)
		}
		return nil, err
	}
	m.Disp.Close()
	if opts.DryRun {
		RenderPlans(out, m.Theme, report)
	}
	RenderReport(out, m.Theme, report)
	if len(report.Failed()) > 0 {
		return &ExecutionResult{ExitCode: 1}, nil
	}
	return &ExecutionResult{ExitCode: 0}, nil
}

func runMasterGet(m *Managers, out io.Writer) (*ExecutionResult, error) {
	name, err := m.Profiles.Master()
	if err != nil {
		return nil, err
	}
	if name == "" {
		fmt.Fprintln(out, m.Theme.Styled(m.Theme.Dim, "no master profile"))
		return &ExecutionResult{ExitCode: 0}, nil
	}
	fmt.Fprintln(out, name)
	return &ExecutionResult{ExitCode: 0}, nil
}

func runMasterSet(m *Managers, out io.Writer, args []string) (*ExecutionResult, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("profile name required")
	}
	if err := m.Profiles.SetMaster(args[0]); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Master profile is now %s\n", args[0])
	return &ExecutionResult{ExitCode: 0}, nil
}

func runMasterClear(m *Managers, out io.Writer) (*ExecutionResult, error) {
	if err := m.Profiles.ClearMaster(); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "Master profile cleared")
	return &ExecutionResult{ExitCode: 0}, nil
}

func runProfiles(m *Managers, out io.Writer) (*ExecutionResult, error) {
	names, err := m.Profiles.List()
	if err != nil {
		return nil, err
	}
	master, err := m.Profiles.Master()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == master {
			fmt.Fprintf(out, "%s %s %s\n", m.Theme.Bullet, name, m.Theme.Styled(m.Theme.Cyan, "(master)"))
			continue
		}
		fmt.Fprintf(out, "%s %s\n", m.Theme.Bullet, name)
	}
	return &ExecutionResult{ExitCode: 0}, nil
}

func runDiskInfo(m *Managers) (*ExecutionResult, error) {
	stats, total := m.DiskMgr.GetInfo()
	rows := make([][]string, 0, len(stats)+1)
	for _, s := range stats {
		rows = append(rows, []string{s.Label, humanize.Bytes(uint64(s.Size)), fmt.Sprint(s.Items), s.Path})
	}
	rows = append(rows, []string{"Total", humanize.Bytes(uint64(total)), "", ""})
	display.RenderTable(m.Disp, []string{"Type", "Size", "Files", "Path"}, rows)
	return &ExecutionResult{ExitCode: 0}, nil
}

func runDiskClean(m *Managers, out io.Writer) (*ExecutionResult, error) {
	for _, dir := range m.DiskMgr.Clean() {
		fmt.Fprintf(out, "Cleaned %s\n", dir)
	}
	fmt.Fprintln(out, "Clean complete.")
	return &ExecutionResult{ExitCode: 0}, nil
}
