package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage/schema"
)

// Owner is the app and user a command acts for.
type Owner struct {
	App  string
	User string
}

// AddOwnerFlags registers --app and --user on cmd and its subcommands.
func AddOwnerFlags(cmd *cobra.Command, o *Owner) {
	cmd.PersistentFlags().StringVarP(&o.App, "app", "a", schema.DefaultAppName, "Application name")
	cmd.PersistentFlags().StringVarP(&o.User, "user", "u", "default", "User id")
}

// Session returns the identity of sessionID owned by o.
func (o *Owner) Session(sessionID string) session.Identity {
	return session.Identity{AppName: o.App, UserID: o.User, SessionID: sessionID}
}

// ParseAssignments turns key=value pairs into a state. Values that parse as
// JSON keep their type; anything else is a string.
func ParseAssignments(pairs []string) (state.State, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(state.State, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
