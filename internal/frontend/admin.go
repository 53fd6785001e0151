package frontend

import (
	"fmt"
	"strings"

	"github.com/jwaldrip/crispy/internal/cache"
	"github.com/jwaldrip/crispy/internal/compiler"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/jwaldrip/crispy/internal/sourcefile"
	"github.com/spf13/cobra"
)

// NewAdminCommands builds the SUPPLEMENTED FEATURES admin
// subcommands (SPEC_FULL.md): `cache purge`, `cache path <source>`,
// `plugin list`, and `doctor`. These are pure read-side (or
// destructive-but-explicit) conveniences delegating entirely to the
// core components, grounded on the teacher's treex/cmd command-tree
// shape.
func NewAdminCommands(provider cache.Provider, backend compiler.Backend, engine *plugin.Engine) []*cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the artifact cache",
	}
	cacheCmd.AddCommand(newCachePurgeCmd(provider))
	cacheCmd.AddCommand(newCachePathCmd(provider, backend))

	pluginCmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect loaded plugins",
	}
	pluginCmd.AddCommand(newPluginListCmd(engine))

	return []*cobra.Command{cacheCmd, pluginCmd, newDoctorCmd(provider, backend)}
}

func newCachePurgeCmd(provider cache.Provider) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := provider.Purge(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache purged")
			return nil
		},
	}
}

func newCachePathCmd(provider cache.Provider, backend compiler.Backend) *cobra.Command {
	return &cobra.Command{
		Use:   "path <source>",
		Short: "Print the cache path a source file would resolve to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, directive, err := readDirective(args[0])
			if err != nil {
				return err
			}
			expanded, err := sourcefile.ShellExpand(directive)
			if err != nil {
				return err
			}
			hash := provider.ComputeHash([]byte(raw), -1, expanded, backend.Version())
			fmt.Fprintln(cmd.OutOrStdout(), provider.PathForHash(hash))
			return nil
		},
	}
}

func newPluginListCmd(engine *plugin.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins and the hooks they implement",
		RunE: func(cmd *cobra.Command, args []string) error {
			if engine == nil {
				return nil
			}
			for _, entry := range engine.Entries() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) <%s> [%s]\n",
					entry.Descriptor.Name, entry.Descriptor.Version,
					entry.Descriptor.License, entry.Descriptor.Author,
					hookNames(entry))
			}
			return nil
		},
	}
}

func hookNames(entry *plugin.Entry) string {
	if len(entry.Hooks) == 0 {
		return "no hooks"
	}
	names := make([]string, 0, len(entry.Hooks))
	for point := range entry.Hooks {
		names = append(names, point.String())
	}
	return strings.Join(names, ", ")
}

func newDoctorCmd(provider cache.Provider, backend compiler.Backend) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report the resolved toolchain, base flags, and cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "compiler version: %s\n", backend.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "base flags:       %s\n", backend.BaseFlags())
			if dp, ok := provider.(interface{ Dir() string }); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "cache directory:  %s\n", dp.Dir())
			}
			return nil
		},
	}
}

func readDirective(path string) (raw string, directive string, err error) {
	src, err := sourcefile.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return src.Original, src.Directive, nil
}
