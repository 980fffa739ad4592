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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ldcache/internal/colors"
	"github.com/blacktop/ldcache/pkg/ldcache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("list.json", listCmd.Flags().Lookup("json"))
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:     "list [CACHE]",
	Aliases: []string{"ls", "l"},
	Short:   "List the libraries in ld.so.cache (like ldconfig -p)",
	Example: heredoc.Doc(`
		# List the running system's cached libraries
		❯ ldcache list
		# Include flags, OS version and hwcaps
		❯ ldcache list -V
		# List a cache from another sysroot as JSON
		❯ ldcache list --json /mnt/rootfs/etc/ld.so.cache`),
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		path := ldcache.DefaultPath
		if len(args) > 0 {
			path = filepath.Clean(args[0])
		}

		f, err := ldcache.Open(path)
		if err != nil {
			return err
		}

		if viper.GetBool("list.json") {
			out, err := json.Marshal(f.Libs)
			if err != nil {
				return fmt.Errorf("failed to marshal library records: %v", err)
			}
			fmt.Println(string(out))
			return nil
		}

		keyColor := colors.Bold().SprintFunc()
		pathColor := colors.FaintCyan().SprintFunc()
		metaColor := colors.Faint().SprintfFunc()

		fmt.Printf("%d libs found in cache %s\n", len(f.Libs), path)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
		for _, lib := range f.Libs {
			if Verbose {
				fmt.Fprintf(w, "\t%s\t=> %s\t%s\n",
					keyColor(lib.Key),
					pathColor(lib.Value),
					metaColor("(flags=%#04x osversion=%#x hwcap=%#016x)", uint16(lib.Flags), lib.OSVersion, lib.HWCap))
			} else {
				fmt.Fprintf(w, "\t%s\t=> %s\n", keyColor(lib.Key), pathColor(lib.Value))
			}
		}
		return w.Flush()
	},
}
