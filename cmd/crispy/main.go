// Command crispy turns a C source file into an executable unit of
// work with near-zero repeat overhead (see the internal/orchestrator
// package doc for the pipeline this wires together).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jwaldrip/crispy/internal/cache"
	"github.com/jwaldrip/crispy/internal/compiler"
	"github.com/jwaldrip/crispy/internal/config"
	"github.com/jwaldrip/crispy/internal/frontend"
	"github.com/jwaldrip/crispy/internal/frontend/diagnostics"
	"github.com/jwaldrip/crispy/internal/logx"
	"github.com/jwaldrip/crispy/internal/orchestrator"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/spf13/cobra"
)

// version is set by the build system via ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if err := logx.InitGlobal(logx.DefaultConfig()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if len(argv) > 0 && isAdminCommand(argv[0]) {
		return runAdmin(argv)
	}

	selfArgs, scriptArgv, err := frontend.Split(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	inv, err := frontend.ResolveInvocation(selfArgs, scriptArgv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	flags := frontend.ParseModeFlags(selfArgs)

	backend, err := compiler.NewCCDriver("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	provider, err := cache.NewFSCache("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	engine := plugin.NewEngine(nil)
	defer engine.Close()

	var cfgState *config.State
	if path, ok := config.Locate(""); ok {
		loader := config.NewArtifactLoader(backend, provider, nil)
		cfgState, err = loader.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if err := engine.LoadList(strings.Join(cfgState.PluginPaths, ":")); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if cfgState.CacheDirOverride != "" {
			overridden, err := cache.NewFSCache(cfgState.CacheDirOverride)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			provider = overridden
		}
	}
	if flags.PluginList != "" {
		if err := engine.LoadList(flags.PluginList); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	mode := flags.Mode
	scriptArgv = inv.ScriptArgv
	if cfgState != nil {
		mode = frontend.MergeModeFlags(flags, cfgState.BaseModeFlags)
		if cfgState.Argv != nil {
			scriptArgv = cfgState.Argv
		}
	}

	guard := frontend.NewTempFileGuard()
	stop := frontend.InstallSignalHandlers(guard)
	defer stop()

	opts := orchestrator.Options{
		Compiler:   backend,
		Cache:      provider,
		Plugins:    engine,
		Config:     cfgState,
		Mode:       mode,
		Debugger:   flags.Debugger,
		OnTempFile: guard.Set,
	}

	var o *orchestrator.Orchestrator
	switch inv.Mode {
	case frontend.ModeFile:
		o, err = orchestrator.NewFromFile(inv.Source, scriptArgv, opts)
	case frontend.ModeInline:
		o, err = orchestrator.NewInline(inv.Source, nil, scriptArgv, opts)
	case frontend.ModeStdin:
		o, err = orchestrator.NewFromStdin(os.Stdin, scriptArgv, opts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer o.Close()

	res, err := o.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, diagnostics.RenderCompileError(err))
		return 1
	}
	if res.DryRun != nil {
		fmt.Println(diagnostics.RenderDryRun(res.DryRun))
		return 0
	}
	return res.ExitCode
}

func isAdminCommand(first string) bool {
	switch first {
	case "cache", "plugin", "doctor":
		return true
	}
	return false
}

func runAdmin(argv []string) int {
	backend, err := compiler.NewCCDriver("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	provider, err := cache.NewFSCache("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	engine := plugin.NewEngine(nil)
	defer engine.Close()

	root := &cobra.Command{
		Use:     "crispy",
		Version: version,
	}
	root.AddCommand(frontend.NewAdminCommands(provider, backend, engine)...)
	root.SetArgs(argv)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
