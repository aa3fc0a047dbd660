/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// phc2sys disciplines one clock (a PHC or the system wall clock) against a
// master clock or a PPS signal, following the servo/leap/sanity/stats
// pipeline described throughout this module.
package main

import (
	"fmt"
	"os"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var cfg = defaultConfig()
var forcedOffsetFlag float64
var versionFlag bool

var rootCmd = &cobra.Command{
	Use:          "phc2sys",
	Short:        "Synchronize a PHC or the system clock against a master clock or PPS signal",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if versionFlag {
			fmt.Println(version)
			return nil
		}
		configureLogging(cfg)
		if cmd.Flags().Changed("offset") {
			cfg.forcedOffsetSet = true
			cfg.forcedOffsetSec = forcedOffsetFlag
		}
		ready := func() {
			if err := sdNotifyReady(); err != nil {
				log.Warningf("sd_notify: %v", err)
			}
		}
		return run(cfg, ready)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.slaveDevice, "slave", "c", cfg.slaveDevice, "slave clock device (default: wall clock)")
	flags.StringVarP(&cfg.masterDevice, "source", "s", "", "master clock device")
	flags.StringVarP(&cfg.masterPPSDevice, "pps", "d", "", "master PPS device")
	flags.StringVarP(&cfg.servoKind, "servo", "E", cfg.servoKind, "servo type: pi or linreg")
	flags.Float64VarP(&cfg.kpScale, "pgain", "P", cfg.kpScale, "proportional gain scale")
	flags.Float64VarP(&cfg.kiScale, "igain", "I", cfg.kiScale, "integral gain scale")
	flags.DurationVarP(&cfg.stepThreshold, "step-threshold", "S", cfg.stepThreshold, "continuous step threshold")
	flags.DurationVarP(&cfg.firstStepThresh, "first-step-threshold", "F", cfg.firstStepThresh, "first-update step threshold")
	flags.Float64VarP(&cfg.rateHz, "rate", "R", cfg.rateHz, "update rate in Hz")
	flags.IntVarP(&cfg.nsamples, "samples", "N", cfg.nsamples, "readings per update")
	flags.Float64VarP(&forcedOffsetFlag, "offset", "O", 0, "forced slave-master offset in seconds, inhibits management refresh")
	flags.Float64VarP(&cfg.sanityLimitPPB, "max-freq", "L", cfg.sanityLimitPPB, "sanity frequency limit in ppb")
	flags.IntVarP(&cfg.statsWindow, "summary-window", "u", cfg.statsWindow, "summary stats window size (0 disables)")
	flags.BoolVarP(&cfg.waitForPeer, "wait-sync", "w", cfg.waitForPeer, "wait for management peer to reach SLAVE/MASTER before starting")
	flags.IntVarP(&cfg.mgmtDomain, "domain", "n", cfg.mgmtDomain, "management domain number (0-255)")
	flags.BoolVarP(&cfg.leapViaServo, "leap-via-servo", "x", cfg.leapViaServo, "apply leap seconds via the servo instead of the kernel")
	flags.StringVarP(&cfg.logLevel, "log-level", "l", cfg.logLevel, "log level")
	flags.BoolVarP(&cfg.verboseStatus, "messages", "m", cfg.verboseStatus, "verbose colorized status line on stderr")
	flags.BoolVarP(&cfg.quietSyslog, "quiet", "q", cfg.quietSyslog, "suppress syslog output")
	flags.BoolVarP(&versionFlag, "version", "v", false, "print version and exit")
}

// configureLogging sets the log level and, unless -q, attaches a syslog
// hook alongside the default stderr output.
func configureLogging(cfg *config) {
	level, err := log.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Warningf("unknown log level %q, defaulting to info", cfg.logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if !cfg.quietSyslog {
		hook, err := lsyslog.NewSyslogHook("", "", 0, "phc2sys")
		if err != nil {
			log.Warningf("failed to connect to syslog: %v", err)
		} else {
			log.AddHook(hook)
		}
	}
}

// sdNotifyReady notifies systemd the daemon has finished initializing.
func sdNotifyReady() error {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
