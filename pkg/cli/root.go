// Package cli holds the xrefdb commands.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/registry"
)

// EnvPrefix prefixes environment variables that set flags, XREFDB_FLUSH_THRESHOLD
// sets --flush-threshold.
const EnvPrefix = "XREFDB"

// globals are shared by all subcommands
type globals struct {
	stdout io.Writer
	stderr io.Writer

	logLevel    string
	datasources string
	logger      model.Logger
}

// NewRootCommand returns the xrefdb command tree
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "xrefdb",
		Short: "Build and inspect identifier mapping databases.",
		Long: `xrefdb loads tab-separated identifier pairs into an identifier
mapping store, checks the result against the previous release and
answers lookups on finished stores.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			level, err := model.ParseLogLevel(g.logLevel)
			if err != nil {
				return err
			}
			g.logger = model.NewLogger(stderr, level)
			return nil
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	rc.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn or error.")
	rc.PersistentFlags().StringVar(&g.datasources, "datasources", "", "YAML file of extra datasources.")

	rc.AddCommand(newBuildCommand(g))
	rc.AddCommand(newQCCommand(g))
	rc.AddCommand(newInfoCommand(g))
	rc.AddCommand(newLookupCommand(g))
	rc.AddCommand(newDatasourcesCommand(g))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// registry returns the built-in datasources plus the --datasources file
func (g *globals) registry() (*registry.Registry, error) {
	reg, err := registry.Initialize()
	if err != nil {
		return nil, err
	}
	if g.datasources != "" {
		if err := reg.LoadFile(g.datasources); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// setAllConfig fills every flag not set on the command line from the
// environment or the config file, in that order
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if !v.IsSet(f.Name) {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
