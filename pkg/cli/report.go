package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"splitux/pkg/launch"
)

// RenderReport prints one line per instance under the session header,
// followed by any teardown failures.
func RenderReport(w io.Writer, t *Theme, r *launch.SessionReport) {
	fmt.Fprintf(w, "%s %s %s\n", t.IconGame, t.Styled(t.Bold, r.Handler), t.Styled(t.Dim, "session "+r.ID))
	for i, res := range r.Instances {
		branch, cont := t.BoxTree, t.BoxItem
		if i == len(r.Instances)-1 {
			branch, cont = t.BoxLast, "   "
		}
		fmt.Fprintf(w, "%s %s\n", branch, instanceLine(t, res))
		if len(res.Degraded) > 0 {
			fmt.Fprintf(w, "%s    %s\n", cont, t.Styled(t.Yellow, "degraded: "+strings.Join(res.Degraded, ", ")))
		}
		if res.Exit != nil {
			fmt.Fprintf(w, "%s    %s\n", cont, t.Styled(t.Dim, "exit: "+res.Exit.Error()))
		}
	}
	if len(r.TeardownErrors) > 0 {
		fmt.Fprintf(w, "%s %s\n", t.IconWarn, t.Styled(t.Yellow, "teardown"))
		for _, err := range r.TeardownErrors {
			fmt.Fprintf(w, "  %s %s\n", t.Bullet, err)
		}
	}
}

func instanceLine(t *Theme, res *launch.InstanceResult) string {
	who := fmt.Sprintf("%d %s %s", res.Instance.Index, t.IconProfile, res.Instance.Profile)
	switch res.Status() {
	case "failed":
		msg := res.Err.Error()
		var ierr *launch.InstanceError
		if errors.As(res.Err, &ierr) {
			msg = fmt.Sprintf("%s: %v", ierr.Step, ierr.Err)
		}
		return fmt.Sprintf("%s %s %s", t.Styled(t.Red, t.IconFail), who, t.Styled(t.Red, msg))
	case "planned":
		return fmt.Sprintf("%s %s %s", t.Styled(t.Cyan, t.Arrow), who, t.Styled(t.Dim, res.Instance.Resolution()))
	case "degraded":
		return fmt.Sprintf("%s %s pid %d", t.Styled(t.Yellow, t.IconWarn), who, res.PID)
	default:
		return fmt.Sprintf("%s %s pid %d", t.Styled(t.Green, t.IconOK), who, res.PID)
	}
}

// RenderPlans prints every planned command with its environment.
func RenderPlans(w io.Writer, t *Theme, r *launch.SessionReport) {
	for _, res := range r.Instances {
		fmt.Fprintf(w, "%s\n", t.Styled(t.Bold, fmt.Sprintf("instance %d (%s)", res.Instance.Index, res.Instance.Profile)))
		if res.Plan == nil {
			fmt.Fprintf(w, "  %s\n\n", t.Styled(t.Red, res.Err.Error()))
			continue
		}
		for _, k := range slices.Sorted(maps.Keys(res.Plan.Env)) {
			fmt.Fprintf(w, "  %s\n", t.Styled(t.Dim, k+"="+res.Plan.Env[k]))
		}
		fmt.Fprintf(w, "  %s\n", res.Plan)
		if len(res.Degraded) > 0 {
			fmt.Fprintf(w, "  %s\n", t.Styled(t.Yellow, "degraded: "+strings.Join(res.Degraded, ", ")))
		}
		fmt.Fprintln(w)
	}
}
