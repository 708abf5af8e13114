// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main provides the appliance disk installer.
package main

import "github.com/boxforge/installer/cmd/installer/cmd"

func main() {
	cmd.Execute()
}
