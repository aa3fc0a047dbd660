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

// Package statusline renders the stable, order-sensitive per-tick and
// per-window log lines, optionally colorized for an interactive
// terminal (the -m flag).
package statusline

import (
	"fmt"

	"github.com/fatih/color"
)

// Raw formats one per-sample trace line: label, signed offset, servo
// state name prefixed with "s", signed frequency, and an optional path
// delay.
func Raw(label string, offsetNS float64, state string, freqPPB float64, delayNS float64, haveDelay bool) string {
	if haveDelay {
		return fmt.Sprintf("%s offset %9.0f s%s freq %+7.0f delay %6.0f", label, offsetNS, state, freqPPB, delayNS)
	}
	return fmt.Sprintf("%s offset %9.0f s%s freq %+7.0f", label, offsetNS, state, freqPPB)
}

// Summary formats one per-window summary line: RMS/max offset, mean/stddev
// frequency, and optional mean/stddev delay.
func Summary(rms, max, freqMean, freqStddev float64, delayMean, delayStddev float64, haveDelay bool) string {
	if haveDelay {
		return fmt.Sprintf("rms %4.0f max %4.0f freq %+6.0f +/- %3.0f delay %5.0f +/- %3.0f", rms, max, freqMean, freqStddev, delayMean, delayStddev)
	}
	return fmt.Sprintf("rms %4.0f max %4.0f freq %+6.0f +/- %3.0f", rms, max, freqMean, freqStddev)
}

// Colorize wraps line by the servo state it reports: green for LOCKED,
// yellow for JUMP/FILTER, red for anything else (INIT/UNLOCKED), the
// same severity-by-color convention used for -m's interactive output.
func Colorize(line, state string) string {
	switch state {
	case "LOCKED":
		return color.GreenString(line)
	case "JUMP", "FILTER":
		return color.YellowString(line)
	default:
		return color.RedString(line)
	}
}
