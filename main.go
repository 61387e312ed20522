// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// lpf2 - LPF2 Device Toolkit
//
// A CLI tool for discovering, monitoring and driving LPF2 motors and sensors
// over a local serial adapter or a WebSocket bridge to a hub.

package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/Thermoquad/lpf2/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}
