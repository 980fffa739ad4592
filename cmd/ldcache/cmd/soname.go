/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"debug/elf"
	"fmt"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sonameCmd)
}

// soname extracts the DT_SONAME of a shared object.
func soname(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s as ELF", path)
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return "", fmt.Errorf("%s is not a shared object (type %s)", path, f.Type)
	}

	names, err := f.DynString(elf.DT_SONAME)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read dynamic section of %s", path)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%s has no DT_SONAME", path)
	}
	return names[0], nil
}

// sonameCmd represents the soname command
var sonameCmd = &cobra.Command{
	Use:   "soname <ELF>",
	Short: "Print a shared library's SONAME",
	Example: heredoc.Doc(`
		# Print the canonical name the linker will cache for a library
		❯ ldcache soname /lib/x86_64-linux-gnu/libc.so.6`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		name, err := soname(filepath.Clean(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(name)

		return nil
	},
}
