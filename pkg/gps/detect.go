// Zaparoo TCD Core
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo TCD Core.
//
// Zaparoo TCD Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo TCD Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo TCD Core.  If not, see <http://www.gnu.org/licenses/>.

package gps

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.bug.st/serial"
)

var ErrNoDevice = errors.New("no gps serial device found")

type usbID struct {
	Vid string
	Pid string
}

// Bridges and receivers commonly found on USB GPS modules. Devices
// matching one of these are tried first.
var knownReceivers = []usbID{
	{Vid: "1546", Pid: "01a7"}, // u-blox 7
	{Vid: "1546", Pid: "01a8"}, // u-blox 8
	{Vid: "1546", Pid: "01a9"}, // u-blox 9
	{Vid: "067b", Pid: "2303"}, // Prolific PL2303
	{Vid: "10c4", Pid: "ea60"}, // Silicon Labs CP210x
	{Vid: "0e8d", Pid: "3329"}, // MediaTek MT3329
}

// usbLookup returns the vendor and product id of a device node.
type usbLookup func(path string) (vid, pid string)

func udevLookup(path string) (vid, pid string) {
	if !strings.HasPrefix(path, "/dev/") {
		log.Error().Str("path", path).Msg("invalid device path")
		return "", ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:gosec // Safe: path validated to start with /dev/, udevadm uses absolute path
	out, err := exec.CommandContext(ctx, "/usr/bin/udevadm", "info", "--name="+path).Output()
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("udevadm failed")
		return "", ""
	}

	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "E: ID_VENDOR_ID="):
			vid = strings.ToLower(strings.TrimPrefix(line, "E: ID_VENDOR_ID="))
		case strings.HasPrefix(line, "E: ID_MODEL_ID="):
			pid = strings.ToLower(strings.TrimPrefix(line, "E: ID_MODEL_ID="))
		}
	}
	return vid, pid
}

func isKnownReceiver(vid, pid string) bool {
	for _, k := range knownReceivers {
		if k.Vid == vid && k.Pid == pid {
			return true
		}
	}
	return false
}

// linuxPorts lists USB serial nodes under dir, known receivers first.
func linuxPorts(fs afero.Fs, dir string, lookup usbLookup) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var known, other []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasPrefix(e.Name(), "ttyUSB") && !strings.HasPrefix(e.Name(), "ttyACM") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if lookup != nil && isKnownReceiver(lookup(p)) {
			known = append(known, p)
		} else {
			other = append(other, p)
		}
	}
	sort.Strings(known)
	sort.Strings(other)
	return append(known, other...), nil
}

// DetectPort returns the most likely serial device of a GPS receiver.
func DetectPort() (string, error) {
	var ports []string
	if runtime.GOOS == "linux" {
		var lookup usbLookup
		if ok, _ := afero.Exists(afero.NewOsFs(), "/usr/bin/udevadm"); ok {
			lookup = udevLookup
		}
		found, err := linuxPorts(afero.NewOsFs(), "/dev", lookup)
		if err != nil {
			return "", err
		}
		ports = found
	} else {
		found, err := serial.GetPortsList()
		if err != nil {
			return "", fmt.Errorf("failed to get serial ports list: %w", err)
		}
		for _, p := range found {
			if strings.HasPrefix(p, "/dev/tty.usbserial") || strings.HasPrefix(p, "COM") {
				ports = append(ports, p)
			}
		}
	}

	if len(ports) == 0 {
		return "", ErrNoDevice
	}
	log.Debug().Strs("ports", ports).Msg("gps: candidate serial ports")
	return ports[0], nil
}
