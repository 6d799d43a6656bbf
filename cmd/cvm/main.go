// cvm runs the bundled sample programs on the CVM engine and shows the
// bytecode, native fragments and cache regions they produce.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/engine"
	log "github.com/colorfulnotion/cvm/log"
	"github.com/colorfulnotion/cvm/samples"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "cvm",
		Short: "CVM bytecode engine",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		configPath string
		logLevel   string
		debug      string
		mode       string
		unrollOn   bool
		threshold  int
		arch       string
		repeat     int
		native     bool
	)

	// load builds the effective configuration: defaults, then the file, then flags.
	load := func(cmd *cobra.Command) *config.Config {
		cfg := config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				fmt.Printf("Failed to load config: %v\n", err)
				os.Exit(1)
			}
		}
		flags := cmd.Flags()
		if flags.Changed("log") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("debug") {
			cfg.Log.Modules = debug
		}
		if flags.Changed("mode") {
			cfg.Engine.Mode = mode
		}
		if flags.Changed("unroll") {
			cfg.Unroll.Enabled = unrollOn
		}
		if flags.Changed("threshold") {
			cfg.Unroll.Threshold = threshold
		}
		if flags.Changed("arch") {
			cfg.Unroll.Arch = arch
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("Invalid config: %v\n", err)
			os.Exit(1)
		}
		log.InitLogger(cfg.Log.Level)
		log.EnableModules(cfg.Log.Modules)
		return cfg
	}

	open := func(cmd *cobra.Command, name string) (*engine.Engine, *engine.Method, samples.Sample) {
		s, ok := samples.Lookup(name)
		if !ok {
			fmt.Printf("Unknown sample %q (try `cvm samples`)\n", name)
			os.Exit(1)
		}
		e, err := engine.New(load(cmd))
		if err != nil {
			fmt.Printf("Failed to create engine: %v\n", err)
			os.Exit(1)
		}
		m, err := s.Build(e)
		if err != nil {
			fmt.Printf("Failed to build %s: %v\n", name, err)
			os.Exit(1)
		}
		return e, m, s
	}

	var runCmd = &cobra.Command{
		Use:   "run <sample> [args...]",
		Short: "Run a sample program",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e, m, s := open(cmd, args[0])
			defer e.Close()
			in := s.Args
			if len(args) > 1 {
				in = nil
				for _, a := range args[1:] {
					v, err := strconv.ParseInt(a, 0, 32)
					if err != nil {
						fmt.Printf("Bad argument %q: %v\n", a, err)
						os.Exit(1)
					}
					in = append(in, samples.I4(int32(v)))
				}
			}
			var (
				res []cvm.Word
				err error
			)
			start := time.Now()
			for i := 0; i < repeat; i++ {
				res, err = e.Invoke(context.Background(), m, in...)
				if err != nil {
					break
				}
			}
			elapsed := time.Since(start)
			if err != nil {
				fmt.Printf("%s: %v\n", s.Name, err)
				os.Exit(1)
			}
			out := make([]string, len(res))
			for i, w := range res {
				out[i] = strconv.FormatInt(int64(int32(w)), 10)
			}
			fmt.Printf("%s = %s\n", s.Name, strings.Join(out, " "))
			st := e.Stats()
			fmt.Printf("  %d run(s) in %v, mode %s, native %v\n", repeat, elapsed, e.Config().Engine.Mode, e.CanExecuteNative())
			fmt.Printf("  compiles %d, evictions %d, fragment runs %d, re-executions %d\n",
				st.Compiles, st.Evictions, st.FragmentRuns, st.ReExecutes)
			if st.Unroll.Blocks > 0 {
				fmt.Printf("  unrolled %d blocks, %d instructions, %d bytes, %d guards\n",
					st.Unroll.Blocks, st.Unroll.Instructions, st.Unroll.Bytes, st.Unroll.Guards)
			}
		},
	}
	runCmd.Flags().StringVar(&mode, "mode", config.ModeDirect, "Dispatch mode (token, direct)")
	runCmd.Flags().BoolVar(&unrollOn, "unroll", false, "Unroll hot methods to native code")
	runCmd.Flags().IntVar(&threshold, "threshold", 2, "Calls before a method is unrolled")
	runCmd.Flags().StringVar(&arch, "arch", "", "Code generator architecture (default: host)")
	runCmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "Number of invocations")

	var disCmd = &cobra.Command{
		Use:   "dis <sample>",
		Short: "Disassemble the bytecode of a sample's methods",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e, _, _ := open(cmd, args[0])
			defer e.Close()
			ctx := context.Background()
			for _, m := range e.Registry().Methods() {
				if m.Build == nil {
					continue
				}
				if err := e.Compile(ctx, m); err != nil {
					fmt.Printf("%s: %v\n", m, err)
					os.Exit(1)
				}
				body, ok := e.Body(m)
				if !ok {
					continue
				}
				fmt.Printf("%s: %d bytes xxh3=%016x\n", m, len(body.Code), body.Fingerprint)
				fmt.Print(cvm.Disassemble(body.Code, cvm.Layout64))
				if !native {
					continue
				}
				frags, err := e.Unroll(ctx, m)
				if err != nil {
					fmt.Printf("  unroll: %v\n", err)
					continue
				}
				for _, f := range frags {
					fmt.Printf("  fragment [0x%04x, 0x%04x) %d ops, %d guards, %d bytes at 0x%x\n",
						f.Start, f.End, f.Ops, f.Guards, len(f.Code), f.Entry)
					for _, line := range e.Unroller().Disassemble(f) {
						fmt.Printf("    %s\n", line)
					}
				}
			}
		},
	}
	disCmd.Flags().BoolVar(&native, "native", false, "Also show the unrolled native code")
	disCmd.Flags().StringVar(&arch, "arch", "", "Code generator architecture (default: host)")
	disCmd.Flags().StringVar(&mode, "mode", config.ModeToken, "Dispatch mode (token, direct)")

	var regionsCmd = &cobra.Command{
		Use:   "regions <sample>",
		Short: "Show the cache regions and protected ranges of a sample",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e, m, s := open(cmd, args[0])
			defer e.Close()
			if _, err := e.Invoke(context.Background(), m, s.Args...); err != nil {
				fmt.Printf("%s: %v\n", s.Name, err)
			}
			for _, body := range e.Cache().Methods() {
				fmt.Print(body.Tree().String())
			}
			st := e.Cache().Stats()
			fmt.Printf("%d methods, %d pages, %d bytes, %d native bytes\n", st.Methods, st.Pages, st.BytesUsed, st.NativeUsed)
		},
	}

	var samplesCmd = &cobra.Command{
		Use:   "samples",
		Short: "List the sample programs",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, s := range samples.All() {
				fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
			}
			w.Flush()
		},
	}

	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(load(cmd).String())
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cvm %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "Debug modules to enable (cvm_coder,cvm_cache,cvm_engine,cvm_unroll,cvm_native,cvm_config or all)")

	rootCmd.AddCommand(runCmd, disCmd, regionsCmd, samplesCmd, configCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
