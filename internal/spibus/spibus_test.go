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

package spibus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReadRequestEncodesAddressBigEndian(t *testing.T) {
	req := buildReadRequest(0x00112233, 2)
	require.Equal(t, []byte{0x00, 0x11, 0x22, 0x33, 0, 0, 0, 0, 0, 0, 0, 0}, req)
}

func TestParseReadResponseDecodesWords(t *testing.T) {
	resp := []byte{0, 0, 0, 0, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x00, 0x01}
	words := parseReadResponse(resp, 2)
	require.Equal(t, []uint32{0xDEADBEEF, 0x00000001}, words)
}

func TestBuildWriteRequestSetsWriteBit(t *testing.T) {
	req := buildWriteRequest(0x00000010, 0xCAFEBABE)
	require.Equal(t, uint32(0x80000010), getBE32(req))
	require.Equal(t, uint32(0xCAFEBABE), getBE32(req[4:]))
}

func TestDefaultConfigMatchesSwitchProfile(t *testing.T) {
	cfg := DefaultConfig()
	require.EqualValues(t, 0x01, cfg.Mode)
	require.EqualValues(t, 10_000_000, cfg.SpeedHz)
	require.EqualValues(t, 8, cfg.BitsPerWord)
}
