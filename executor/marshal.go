package executor

import (
	"encoding/json"

	clawforge "github.com/clawforge/clawforge"
)

// shellArgsJSON adapts a ShellCommandAction into the shell_exec tool's
// argument shape, joining Command and Args into a single command line.
func shellArgsJSON(a *clawforge.ShellCommandAction) (json.RawMessage, error) {
	cmd := a.Command
	for _, arg := range a.Args {
		cmd += " " + arg
	}
	return json.Marshal(struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}{Command: cmd, Timeout: a.TimeoutSec})
}

func unmarshalInto(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
