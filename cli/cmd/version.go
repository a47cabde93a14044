package cmd

import (
	goruntime "runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	ContractVersion string `json:"contract_version"`
	GoVersion       string `json:"go_version"`
	Platform        string `json:"platform"`
}

// VersionCommand returns the version command. It reports build information
// and the journal contract version without reading any configuration.
func VersionCommand(_, commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version command", exitInvalidInput)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitInvalidInput)
			}
			return r.Render(VersionResponse{
				Version:         types.Version,
				Commit:          commit,
				ContractVersion: types.ContractVersion,
				GoVersion:       goruntime.Version(),
				Platform:        goruntime.GOOS + "/" + goruntime.GOARCH,
			})
		},
	}
}
