package command

import (
	"strconv"
	"strings"
)

// Placeholders recognized in handler argument strings.
const (
	PlaceholderProfile       = "$PROFILE"
	PlaceholderWidth         = "$WIDTH"
	PlaceholderHeight        = "$HEIGHT"
	PlaceholderResolution    = "$RESOLUTION"
	PlaceholderInstanceCount = "$INSTANCECOUNT"
	PlaceholderInstance      = "$INSTANCE"
	PlaceholderGameDir       = "$GAMEDIR"
	PlaceholderHandlerDir    = "$HANDLERDIR"
)

// Vars are the values placeholders expand to.
type Vars struct {
	Profile    string
	Width      int
	Height     int
	Count      int
	Index      int
	GameDir    string
	HandlerDir string
}

// Substitute splits args on whitespace, strips traversal sequences from
// each token and expands placeholders. Tokens reduced to nothing are dropped.
func Substitute(args string, v Vars) []string {
	// $INSTANCECOUNT must be tried before its prefix $INSTANCE.
	r := strings.NewReplacer(
		PlaceholderProfile, v.Profile,
		PlaceholderWidth, strconv.Itoa(v.Width),
		PlaceholderHeight, strconv.Itoa(v.Height),
		PlaceholderResolution, strconv.Itoa(v.Width)+"x"+strconv.Itoa(v.Height),
		PlaceholderInstanceCount, strconv.Itoa(v.Count),
		PlaceholderInstance, strconv.Itoa(v.Index),
		PlaceholderGameDir, v.GameDir,
		PlaceholderHandlerDir, v.HandlerDir,
	)
	var out []string
	for _, tok := range strings.Fields(args) {
		tok = stripTraversal(tok)
		if tok == "" {
			continue
		}
		out = append(out, r.Replace(tok))
	}
	return out
}

var traversal = strings.NewReplacer("../", "", `..\`, "")

func stripTraversal(tok string) string {
	for {
		next := traversal.Replace(tok)
		next = strings.TrimSuffix(next, "/..")
		next = strings.TrimSuffix(next, `\..`)
		if next == ".." {
			next = ""
		}
		if next == tok {
			return next
		}
		tok = next
	}
}
