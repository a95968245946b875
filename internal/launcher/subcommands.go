package launcher

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/strongdm/contain-agent/internal/command"
	"github.com/strongdm/contain-agent/internal/configstore"
	"github.com/strongdm/contain-agent/internal/profile"
)

func newProfilesCommand(s streams, ui *console) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List available profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := configstore.ResolveHomeDir()
			if err != nil {
				return err
			}
			cwd, err := getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			local, homeDir := profile.DefaultLocations(cwd, home)
			set, err := profile.Discover(local, homeDir)
			if err != nil {
				return err
			}
			entries := set.Entries()
			if len(entries) == 0 {
				fmt.Fprintf(s.out, "No profiles found in %s or %s\n", local, homeDir)
				return nil
			}
			width := 0
			for _, e := range entries {
				if w := lipgloss.Width(e.Name); w > width {
					width = w
				}
			}
			for _, e := range entries {
				name := ui.styles.value.Render(e.Name)
				pad := strings.Repeat(" ", width-lipgloss.Width(e.Name))
				fmt.Fprintf(s.out, "%s%s  %s %s\n", name, pad, e.Dir, ui.styles.muted.Render("("+string(e.Source)+")"))
			}
			return nil
		},
	}
}

func newConfigCommand(s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change persisted defaults",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, file, err := configstore.GetConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, file)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print effective values for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cwd, err := getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			cfg, err := configstore.Load()
			if err != nil {
				return err
			}
			resolved, err := cfg.Resolve(cwd)
			if err != nil {
				return err
			}
			rows := []struct {
				key   string
				value string
			}{
				{configstore.KeyImage, resolved.Image},
				{configstore.KeyRuntime, resolved.Runtime},
				{configstore.KeyProfile, resolved.Profile},
				{configstore.KeyProxyHost, resolved.ProxyHost},
				{configstore.KeyMitmproxyDir, resolved.MitmproxyDir},
				{configstore.KeyCommand, command.QuoteArgs(resolved.Command)},
				{configstore.KeyDumpCompression, resolved.DumpCompression},
			}
			for _, row := range rows {
				fmt.Fprintf(s.out, "%-16s = %q (%s)\n", row.key, row.value, resolved.Scope(row.key))
			}
			return nil
		},
	})

	var setProject string
	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Persist a default value",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return updateConfig(func(cfg *configstore.Config) error {
				if setProject != "" {
					return cfg.SetProject(setProject, args[0], args[1])
				}
				return cfg.Set(args[0], args[1])
			})
		},
	}
	set.Flags().StringVar(&setProject, "project", "", "Scope the value to project `DIR`")
	cmd.AddCommand(set)

	var unsetProject string
	unset := &cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a persisted value",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return updateConfig(func(cfg *configstore.Config) error {
				if unsetProject != "" {
					return cfg.UnsetProject(unsetProject, args[0])
				}
				return cfg.Unset(args[0])
			})
		},
	}
	unset.Flags().StringVar(&unsetProject, "project", "", "Remove the value from project `DIR`")
	cmd.AddCommand(unset)

	return cmd
}

func updateConfig(mutate func(*configstore.Config) error) error {
	cfg, err := configstore.Load()
	if err != nil {
		return err
	}
	if err := mutate(&cfg); err != nil {
		return err
	}
	return configstore.Save(cfg)
}
