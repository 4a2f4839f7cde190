package cli

import (
	"splitux/pkg/config"
	"splitux/pkg/disk"
	"splitux/pkg/display"
	"splitux/pkg/launch"
	"splitux/pkg/profile"
)

// Managers are the long-lived components commands run against.
type Managers struct {
	Disp     display.Display
	SysCfg   config.ReadOnly
	Profiles profile.Manager
	DiskMgr  disk.Manager
	Launcher launch.Manager
	Theme    *Theme
}

// ExecutionResult is what a command hands back to main.
type ExecutionResult struct {
	ExitCode int
}
