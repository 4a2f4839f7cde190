// Package display shows loader and mod installs while a session is being
// prepared. Install tasks are status lines kept at the bottom of the
// terminal; everything else scrolls above them.
package display

// Task is the status line of one package install. The installer moves it
// through its stages and reports download progress on it.
type Task interface {
	// Log writes msg above the status lines, tagged with the task name.
	Log(msg string)
	// SetStage starts a stage such as "Download" or "Extract" on target and
	// resets the progress shown.
	SetStage(name string, target string)
	// Progress shows percent complete, 0 when the total size is unknown.
	Progress(percent int, message string)
	// Done drops the status line. The caller of StartTask calls it once.
	Done()
}

// Display is shared by every concurrent install of a launch.
type Display interface {
	StartTask(name string) Task
	// Log is shown only in verbose mode.
	Log(msg string)
	// Print writes command output such as the disk usage table.
	Print(msg string)
	SetVerbose(v bool)
	// Close forgets the remaining status lines before the session report
	// is printed.
	Close()
}
