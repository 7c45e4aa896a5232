// nodectl inspects stack profiles, simulates small networks of stacks and
// runs a node on a serial radio.
package main

import (
	"encoding/json"
	goflag "flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nodestack-go/services/config"
	"nodestack-go/types"
)

var (
	// Global flags
	outputFormat string

	// Shared by config, sim, shell and run
	profileName string
	configFile  string
)

var rootCmd = &cobra.Command{
	Use:           "nodectl",
	Short:         "Low-power wireless node stack tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// glog reads its flags from the standard flag set.
		return goflag.CommandLine.Parse(nil)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml, json")
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
}

// addConfigFlags registers --profile and --file on cmd.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&profileName, "profile", "p", config.DefaultProfile, "embedded profile name")
	cmd.Flags().StringVarP(&configFile, "file", "f", "", "profile document (YAML); overrides --profile")
}

// loadDocument returns the raw profile document selected by the flags.
func loadDocument() ([]byte, error) {
	if configFile != "" {
		return os.ReadFile(configFile)
	}
	raw, ok := config.EmbeddedConfigLookup(profileName)
	if !ok {
		return nil, fmt.Errorf("no profile %q (have %v)", profileName, config.Profiles())
	}
	return raw, nil
}

// loadStackConfig returns the validated stack configuration selected by the flags.
func loadStackConfig() (types.StackConfig, error) {
	raw, err := loadDocument()
	if err != nil {
		return types.StackConfig{}, err
	}
	return config.StackConfig(raw)
}

func printOut(w io.Writer, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}

func main() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
