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
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ldcache/internal/colors"
	"github.com/blacktop/ldcache/pkg/ldcache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("info.json", infoCmd.Flags().Lookup("json"))
}

type cacheInfo struct {
	File string `json:"file"`
	Size int    `json:"size"`
	Old  struct {
		Magic string `json:"magic"`
		NLibs uint32 `json:"nlibs"`
	} `json:"old"`
	New struct {
		Magic      string `json:"magic"`
		NLibs      uint32 `json:"nlibs"`
		StringsLen uint32 `json:"stringslen"`
	} `json:"new"`
	Layout ldcache.Layout `json:"layout"`
	Libs   []ldcache.Lib  `json:"libs"`
}

func getInfo(path string, f *ldcache.File) *cacheInfo {
	info := &cacheInfo{
		File:   path,
		Size:   f.Size(),
		Layout: f.Layout,
		Libs:   f.Libs,
	}
	info.Old.Magic = f.Old.Magic.String()
	info.Old.NLibs = f.Old.NLibs
	info.New.Magic = f.New.Magic.String()
	info.New.NLibs = f.New.NLibs
	info.New.StringsLen = f.New.StringsLen
	return info
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:     "info [CACHE]",
	Aliases: []string{"i"},
	Short:   "Dump ld.so.cache header and layout info",
	Example: heredoc.Doc(`
		# Inspect the running system's cache
		❯ ldcache info
		# Inspect a cache from another sysroot
		❯ ldcache info /mnt/rootfs/etc/ld.so.cache
		# Full dump (headers, layout and records) as JSON
		❯ ldcache info --json`),
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

		if viper.GetBool("info.json") {
			out, err := json.Marshal(getInfo(path, f))
			if err != nil {
				return fmt.Errorf("failed to marshal cache info: %v", err)
			}
			fmt.Println(string(out))
			return nil
		}

		bold := colors.Bold().SprintFunc()
		faint := colors.Faint().SprintfFunc()

		fmt.Printf("%s %s (%s)\n\n", bold("Cache:"), path, humanize.Bytes(uint64(f.Size())))
		fmt.Print(f.Old)
		fmt.Print(f.New)
		fmt.Printf("Layout:\n")
		for _, reg := range []struct {
			name string
			r    ldcache.Region
		}{
			{"old header", f.Layout.OldHeader},
			{"old entries", f.Layout.OldEntries},
			{"pad", f.Layout.Pad},
			{"new header", f.Layout.NewHeader},
			{"new entries", f.Layout.NewEntries},
			{"strings", f.Layout.Strings},
		} {
			fmt.Printf("  %s %s\n", faint("%#08x-%#08x", reg.r.Offset, reg.r.End()), reg.name)
		}

		return nil
	},
}
