// Package frontend implements the thin front end spec §4.7 describes:
// argv splitting into "self" options and "script" argv, construction
// mode selection, and signal-triggered temp-file cleanup. Everything
// here is a caller of internal/orchestrator, never part of the
// pipeline itself.
package frontend

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jwaldrip/crispy/internal/config"
	"github.com/jwaldrip/crispy/internal/orchestrator"
)

// Mode names which orchestrator construction mode the front end
// selected.
type Mode int

const (
	ModeFile Mode = iota
	ModeInline
	ModeStdin
)

// Invocation is the result of splitting argv: which construction mode
// was selected, the source (file path or inline fragment, unused for
// stdin), and the script argv to hand the entry symbol. In file and
// stdin mode ScriptArgv starts with the positional argument itself
// (the file path or "-"), so it plays the role of argv[0].
type Invocation struct {
	Mode       Mode
	Source     string
	ScriptArgv []string
}

// ValueOptions names the "self" options that consume their following
// argv entry as a value (spec §4.7: "several short options consume
// their following argv entry as a value").
var ValueOptions = map[string]bool{
	"-e": true, // inline fragment
	"-p": true, // plugin list
	"-d": true, // debugger name
}

// InlineOption and StdinMarker select construction mode (b) and (c)
// respectively; any other positional argument selects mode (a).
const (
	InlineOption = "-e"
	StdinMarker  = "-"
)

// Mode-flag self options (spec §6 "Mode flags (abstract set)"; surface
// syntax is front-end specific, chosen here the way a short-option
// bundle of a shell-fronted C tool would be).
const (
	ForceCompileOption   = "-f" // force_compile: bypass cache validity
	PreserveSourceOption = "-k" // preserve_source: keep the temp source ("keep")
	DryRunOption         = "-n" // dry_run: print intended compile and exit
	DebuggerOption       = "-d" // debug_launch: implied by presence, value names the debugger
	PluginListOption     = "-p" // additional plugin paths, ':'/',' separated
)

// ParsedFlags is what ParseModeFlags extracts from the "self" argv
// half: the abstract mode-flag set plus the two value-bearing options
// (debugger name, extra plugin path list) that aren't booleans.
type ParsedFlags struct {
	Mode       orchestrator.ModeFlags
	Debugger   string
	PluginList string

	// *Given report whether the corresponding option was present on
	// argv at all, so a caller can tell "explicitly set" apart from
	// "left at its zero value" when merging with a configuration
	// artifact's base mode flags (spec §4.5 harvest's "was set?"
	// signal on BaseModeFlags).
	ForceCompileGiven   bool
	PreserveSourceGiven bool
	DryRunGiven         bool
	DebugLaunchGiven    bool
}

// ParseModeFlags scans selfArgs (the half Split already separated from
// script argv) for the mode-flag options and their values. Unknown
// options are ignored here; ResolveInvocation/Split already validated
// the shape of selfArgs.
func ParseModeFlags(selfArgs []string) ParsedFlags {
	var p ParsedFlags
	for i := 0; i < len(selfArgs); i++ {
		switch selfArgs[i] {
		case ForceCompileOption:
			p.Mode.ForceCompile = true
			p.ForceCompileGiven = true
		case PreserveSourceOption:
			p.Mode.PreserveSource = true
			p.PreserveSourceGiven = true
		case DryRunOption:
			p.Mode.DryRun = true
			p.DryRunGiven = true
		case DebuggerOption:
			p.Mode.DebugLaunch = true
			p.DebugLaunchGiven = true
			if i+1 < len(selfArgs) {
				i++
				p.Debugger = selfArgs[i]
			}
		case PluginListOption:
			if i+1 < len(selfArgs) {
				i++
				p.PluginList = selfArgs[i]
			}
		}
	}
	return p
}

// MergeModeFlags layers a configuration artifact's base mode flags
// (spec §4.5 "Harvest") under front-end-given ones: a flag explicitly
// present on argv always wins; otherwise the config's value applies if
// the config set it at all, per its own "was set?" signal.
func MergeModeFlags(front ParsedFlags, base map[string]config.ModeFlag) orchestrator.ModeFlags {
	m := front.Mode
	if !front.ForceCompileGiven {
		if s, ok := base["force_compile"]; ok && s.Set {
			m.ForceCompile = s.Value
		}
	}
	if !front.PreserveSourceGiven {
		if s, ok := base["preserve_source"]; ok && s.Set {
			m.PreserveSource = s.Value
		}
	}
	if !front.DryRunGiven {
		if s, ok := base["dry_run"]; ok && s.Set {
			m.DryRun = s.Value
		}
	}
	if !front.DebugLaunchGiven {
		if s, ok := base["debug_launch"]; ok && s.Set {
			m.DebugLaunch = s.Value
		}
	}
	return m
}

// Split separates argv into self options and script argv (spec §4.7):
// self options run up to the first positional argument; a preceding
// "--" ends option parsing early; the literal "-" at the positional
// slot selects standard-input mode. Any other token with a leading "-"
// before the first positional is kept as a self option; Split itself
// never fails, and ResolveInvocation rejects a leading "-" that reaches
// the positional slot.
func Split(argv []string) (selfArgs []string, scriptArgv []string, err error) {
	for i := 0; i < len(argv); i++ {
		tok := argv[i]

		if tok == "--" {
			selfArgs = append(selfArgs, tok)
			return selfArgs, argv[i+1:], nil
		}

		if tok == StdinMarker {
			return selfArgs, argv[i:], nil
		}

		if len(tok) > 0 && tok[0] == '-' {
			selfArgs = append(selfArgs, tok)
			if ValueOptions[tok] && i+1 < len(argv) {
				i++
				selfArgs = append(selfArgs, argv[i])
			}
			continue
		}

		// First positional argument: the rest, including this one, is
		// script argv.
		return selfArgs, argv[i:], nil
	}
	return selfArgs, nil, nil
}

// ResolveInvocation turns split self/script argv into a construction
// mode, honoring the inline-fragment option and the stdin marker; a
// positional file path otherwise selects mode (a). A leading '-' at
// the positional slot that isn't exactly "-" is an error, unless a
// preceding "--" already ended option parsing (spec §4.7), in which
// case scriptArgv[0] is taken verbatim as the file path.
func ResolveInvocation(selfArgs, scriptArgv []string) (*Invocation, error) {
	sawDoubleDash := len(selfArgs) > 0 && selfArgs[len(selfArgs)-1] == "--"

	for i, a := range selfArgs {
		if a == InlineOption && i+1 < len(selfArgs) {
			return &Invocation{Mode: ModeInline, Source: selfArgs[i+1], ScriptArgv: scriptArgv}, nil
		}
	}

	if len(scriptArgv) == 0 {
		return nil, fmt.Errorf("no script argument given")
	}

	first := scriptArgv[0]
	if first == StdinMarker {
		return &Invocation{Mode: ModeStdin, ScriptArgv: scriptArgv}, nil
	}
	if !sawDoubleDash && len(first) > 0 && first[0] == '-' {
		return nil, fmt.Errorf("invalid positional argument %q", first)
	}

	return &Invocation{Mode: ModeFile, Source: first, ScriptArgv: scriptArgv}, nil
}

// TempFileGuard tracks the current in-flight temporary source path so
// a signal handler can unlink it before the process exits (spec §4.7,
// §5 "Cancellation"). Safe for concurrent Set/Clear from the
// orchestrator and the signal-handling goroutine.
type TempFileGuard struct {
	path atomic.Value
}

// NewTempFileGuard returns a guard with no tracked path.
func NewTempFileGuard() *TempFileGuard {
	g := &TempFileGuard{}
	g.path.Store("")
	return g
}

// Set records the current in-flight temp source path.
func (g *TempFileGuard) Set(path string) { g.path.Store(path) }

// Clear forgets the tracked path once it's no longer in flight.
func (g *TempFileGuard) Clear() { g.path.Store("") }

// InstallSignalHandlers unlinks the guard's tracked path on SIGINT or
// SIGTERM, then exits with the conventional 128+signal code (spec
// §4.7, §5). Returns a function to stop watching.
func InstallSignalHandlers(guard *TempFileGuard) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		if path, _ := guard.path.Load().(string); path != "" {
			os.Remove(path)
		}
		code := 128
		if s, ok := sig.(syscall.Signal); ok {
			code += int(s)
		}
		os.Exit(code)
	}()

	return func() { signal.Stop(ch); close(ch) }
}
