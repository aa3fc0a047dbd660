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

package statusline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawWithDelay(t *testing.T) {
	line := Raw("phc0", 123, "LOCKED", 45.6, 789, true)
	require.Contains(t, line, "phc0 offset")
	require.Contains(t, line, "sLOCKED")
	require.Contains(t, line, "delay")
}

func TestRawWithoutDelay(t *testing.T) {
	line := Raw("phc0", 123, "JUMP", 45.6, 0, false)
	require.NotContains(t, line, "delay")
}

func TestSummaryWithDelay(t *testing.T) {
	line := Summary(10, 20, 30, 40, 50, 60, true)
	require.True(t, strings.HasPrefix(line, "rms"))
	require.Contains(t, line, "delay")
}

func TestSummaryWithoutDelay(t *testing.T) {
	line := Summary(10, 20, 30, 40, 0, 0, false)
	require.NotContains(t, line, "delay")
}

func TestColorizeDoesNotAlterContent(t *testing.T) {
	line := "offset 100 sLOCKED freq +10"
	for _, state := range []string{"LOCKED", "JUMP", "FILTER", "INIT"} {
		require.Contains(t, Colorize(line, state), "offset 100 sLOCKED freq +10")
	}
}
