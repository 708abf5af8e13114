// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package grub installs the bootloader onto the boot partition.
package grub

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// Variable is one boot variable passed to the chain-loaded system image.
type Variable struct {
	Key   string
	Value string
}

// Config represents the generated grub.cfg.
//
// The config captures the boot device, opens the system image file as a
// loopback device and switches execution root into the bootloader
// configuration embedded inside that image.
type Config struct {
	SystemImage string
}

// NewConfig returns a config chain-loading the default system image.
func NewConfig() *Config {
	return &Config{
		SystemImage: "/" + SystemImageName,
	}
}

const confTemplate = `insmod echo
insmod linux
insmod cpuid
set BOOT_PARTITION=$root
loopback loop {{ .SystemImage }}
set root=loop
set prefix=($root)/boot/grub
normal
`

// Write generates the config and writes it below the mounted boot
// partition root.
func (c *Config) Write(mountPath string) error {
	path := filepath.Join(mountPath, ConfigPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	defer f.Close() //nolint:errcheck

	t := template.Must(template.New("grub.cfg").Parse(confTemplate))

	if err = t.Execute(f, c); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return f.Close()
}

// WriteVars writes the boot variables fragment below the mounted boot
// partition root, preserving insertion order.
//
// Nothing is written when vars is empty.
func WriteVars(mountPath string, vars []Variable) error {
	if len(vars) == 0 {
		return nil
	}

	path := filepath.Join(mountPath, VarsPath)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	defer f.Close() //nolint:errcheck

	for _, v := range vars {
		if _, err = fmt.Fprintf(f, "set %s=%s\n", v.Key, v.Value); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	return f.Close()
}
