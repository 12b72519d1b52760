package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/window-annotator/internal/client"
	"github.com/heimdex/window-annotator/internal/config"
)

const (
	envServer     = "ANNOTATOR_SERVER"
	defaultServer = "http://127.0.0.1:8000"
	authTokenKey  = "auth_token"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "annotator",
		Short:         "Fixed-window video annotation server and tools",
		Version:       fmt.Sprintf("%s (%s)", config.Version, config.GitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newParseCmd(),
		newWindowsCmd(),
		newExportCmd(),
		newPullCmd(),
		newPushCmd(),
		newProbeCmd(),
		newTranscodeCmd(),
		newTokenCmd(),
	)
	return root
}

// remoteFlags are shared by the commands that talk to a running server.
type remoteFlags struct {
	server string
	token  string
}

func (f *remoteFlags) bind(cmd *cobra.Command) {
	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}
	cmd.Flags().StringVar(&f.server, "server", server, "annotator server base URL (env "+envServer+")")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv(config.EnvAuthToken), "bearer token (env "+config.EnvAuthToken+")")
}

func (f *remoteFlags) client() *client.Client {
	return client.New(f.server, f.token, nil)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
