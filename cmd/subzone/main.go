// Command subzone is the command-line client for a Subzone registry.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmerrifield20/SubzoneRegistry/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// settings are resolved from flags, then SUBZONE_* env vars, then the
// config file.
type settings struct {
	cfgFile string
	v       *viper.Viper
	out     io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	s := &settings{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "subzone",
		Short: "Claim and manage subdomains on a Subzone registry",
		Long: `subzone is the command-line interface for a Subzone registry.

It checks label availability, claims subdomains, points them at an IPv4
address or host name, and lets administrators moderate pending claims.

Credentials come from --token, SUBZONE_TOKEN, or the token key of
~/.subzone/config.yaml.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load(cmd)
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&s.cfgFile, "config", "", "config file (default ~/.subzone/config.yaml)")
	pf.String("registry", "", "registry base URL (default http://localhost:8080)")
	pf.String("token", "", "bearer token from the identity provider")
	pf.Duration("timeout", 15*time.Second, "per-request timeout")
	pf.String("format", "text", "output format: text or json")
	_ = s.v.BindPFlag("registry_url", pf.Lookup("registry"))
	_ = s.v.BindPFlag("token", pf.Lookup("token"))
	_ = s.v.BindPFlag("timeout", pf.Lookup("timeout"))
	_ = s.v.BindPFlag("format", pf.Lookup("format"))

	root.AddCommand(
		s.checkCmd(),
		s.claimCmd(),
		s.listCmd(),
		s.getCmd(),
		s.setTargetCmd(),
		s.statusCmd("approve", "Approve a pending claim (admin)"),
		s.statusCmd("reject", "Reject a pending claim (admin)"),
		s.syncCmd(),
		s.deleteCmd(),
		s.versionCmd(),
	)
	return root
}

func (s *settings) load(cmd *cobra.Command) error {
	if s.cfgFile != "" {
		s.v.SetConfigFile(s.cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		s.v.AddConfigPath(filepath.Join(home, ".subzone"))
		s.v.SetConfigName("config")
		s.v.SetConfigType("yaml")
	}
	s.v.SetEnvPrefix("subzone")
	s.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	s.v.AutomaticEnv()
	s.v.SetDefault("registry_url", "http://localhost:8080")

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && s.cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}
	switch f := s.v.GetString("format"); f {
	case "text", "json":
	default:
		return fmt.Errorf("unknown --format %q (want text or json)", f)
	}
	return nil
}

func (s *settings) client() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(s.v.GetDuration("timeout"))}
	if tok := s.v.GetString("token"); tok != "" {
		opts = append(opts, client.WithToken(tok))
	}
	return client.New(s.v.GetString("registry_url"), opts...)
}

func (s *settings) jsonOutput() bool { return s.v.GetString("format") == "json" }
