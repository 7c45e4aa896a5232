package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nodestack-go/services/config"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the embedded profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range config.Profiles() {
			c, err := config.Profile(name)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s invalid: %v\n", name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s/%s/%s/%s ch %d, %d-byte addresses\n", name,
				c.Layers.Network, c.Layers.RDC, c.Layers.MAC, c.Layers.Framer, c.Radio.Channel, c.AddrSize)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect stack configurations",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective stack configuration, defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadStackConfig()
		if err != nil {
			return err
		}
		return printOut(cmd.OutOrStdout(), c)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a profile document",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := loadDocument()
		if err != nil {
			return err
		}
		doc, err := config.Parse(raw)
		if err != nil {
			return err
		}
		c, err := config.StackConfig(raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d sections, %s stack, up to %d fragments per packet\n",
			len(doc), c.Layers.Network, c.FragmentBudget())
		return nil
	},
}

func init() {
	addConfigFlags(configShowCmd)
	addConfigFlags(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(configCmd)
}
