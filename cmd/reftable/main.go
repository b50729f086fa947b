// Copyright 2019 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command reftable operates on an on-disk reftable stack from the
// shell. It is a thin wrapper around the reftable package, not a
// substitute for embedding the library directly.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nataliechen1/reftable"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string
	var listFile string

	root := &cobra.Command{
		Use:   "reftable",
		Short: "Inspect and maintain a reftable stack",
	}
	root.PersistentFlags().StringVar(&dir, "dir", ".", "reftable directory")
	root.PersistentFlags().StringVar(&listFile, "list-file", "", "list file path (default: <dir>/tables.list)")

	open := func() (*reftable.Stack, error) {
		lf := listFile
		if lf == "" {
			lf = filepath.Join(dir, "tables.list")
		}
		return reftable.NewStack(dir, lf, reftable.NewConfig())
	}

	root.AddCommand(newDumpCmd(open))
	root.AddCommand(newAddCmd(open))
	root.AddCommand(newCompactCmd(open))
	return root
}

func newDumpCmd(open func() (*reftable.Stack, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every live ref in the merged view",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			it, err := st.Merged().SeekRef("")
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			defer w.Flush()
			for {
				var rec reftable.RefRecord
				ok, err := it.NextRef(&rec)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if rec.IsDeletion() {
					continue
				}
				fmt.Fprintf(w, "%s\t%x\t%s\n", rec.RefName, rec.Value, rec.Target)
			}
			return nil
		},
	}
}

func newAddCmd(open func() (*reftable.Stack, error)) *cobra.Command {
	var name, value, target string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Write a single ref update as a new table",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			return st.Add(func(w *reftable.Writer) error {
				idx := st.NextUpdateIndex()
				w.SetLimits(idx, idx)
				rec := &reftable.RefRecord{RefName: name, UpdateIndex: idx, Target: target}
				if value != "" {
					rec.Value = []byte(value)
				}
				return w.AddRef(rec)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "ref name")
	cmd.Flags().StringVar(&value, "value", "", "raw object id bytes")
	cmd.Flags().StringVar(&target, "target", "", "symbolic-ref target")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newCompactCmd(open func() (*reftable.Stack, error)) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			if all {
				return st.CompactAll()
			}
			return st.AutoCompact()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "compact the entire stack into one table, not just the imbalanced segment")
	return cmd
}
