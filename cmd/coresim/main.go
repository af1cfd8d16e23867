// Command coresim runs the out-of-order core timing model over a scripted
// instruction trace. All microarchitectural knobs live in the YAML file
// named by -config; the trace to simulate is the system.insn_trace knob
// inside it.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"oocoresim"
	"oocoresim/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "coresim",
	Short:         "cycle-accurate out-of-order x86 core timing model",
	Long:          "coresim is a cycle-accurate, execution-driven timing model of a superscalar out-of-order x86 core with a shared clocked uncore.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the YAML knob file (required)")
	_ = rootCmd.MarkFlagRequired("config")
	// Accept underscore spellings for flags, matching the knob-file naming.
	rootCmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

func run(cmd *cobra.Command, args []string) error {
	knobs, err := oocoresim.LoadKnobs(configPath)
	if err != nil {
		return err
	}

	feed, err := loadTrace(knobs)
	if err != nil {
		return err
	}

	sim, err := oocoresim.NewSimulator(knobs, feed, oocoresim.Options{
		Logger: logging.Default(),
	})
	if err != nil {
		return err
	}

	if err := sim.Run(); err != nil {
		return err
	}

	snap := sim.Metrics().Snapshot()
	fmt.Printf("committed %d instructions (%d uops) in %d cycles: IPC %.3f\n",
		snap.CommittedInsns, snap.CommittedUops, snap.Cycles, snap.IPC)
	fmt.Printf("recoveries: %d jeclears, %d nukes, %d emergency; memory: %d forwards, %d cache loads, %d MSHR combos\n",
		snap.Jeclears, snap.Nukes, snap.EmergencyRecoveries,
		snap.LoadsForwarded, snap.LoadsToCache, snap.MSHRCombos)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
