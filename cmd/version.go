// Copyright 2024-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fundbook/mf-api/common"
)

var deps bool

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVar(&deps, "deps", false, "print dependencies")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Print the version number`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(common.BuildVersionString())
		if deps {
			fmt.Println()
			fmt.Println(strings.Join(common.GetDependencyList(), "\n"))
		}
	},
}
