// Command pathman chains path-manipulation commands over a single path
// and prints the final result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stageweaver/internal/pathman"
)

// argc per command; parameters are consumed positionally after the
// command word.
var commandSpec = map[string]int{
	"get_prefix":          0,
	"get_path_and_prefix": 0,
	"append_suffix":       1,
	"replace_suffix":      1,
	"delete_suffix":       0,
	"repath":              1,
}

var rootCmd = &cobra.Command{
	Use:   "pathman <path> <command> [param] [<command> [param] ...]",
	Short: "Path manager",
	Long: `Manipulates derivative-file names built from underscore-delimited
suffixes and chained extensions.

Parameters are passed by position. For example, to use the
append_suffix command, pass the filename and suffix as follows:

    pathman ${file} append_suffix ${suffix}

Commands can be chained together:

    pathman ${file} get_prefix append_suffix ${suffix}

Commands:

  get_prefix             filename without directory or extensions
  get_path_and_prefix    like get_prefix, keeping the directory
  append_suffix SUFFIX   insert SUFFIX before the extensions
  replace_suffix SUFFIX  replace the last _suffix with SUFFIX
  delete_suffix          remove the last _suffix
  repath DIR             move the filename into DIR`,
	Args: cobra.MinimumNArgs(2),
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	p := pathman.P(args[0])

	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		name := rest[i]
		argc, ok := commandSpec[name]
		if !ok {
			return fmt.Errorf("command %q not recognized", name)
		}
		var param string
		if argc == 1 {
			if i+1 >= len(rest) {
				return fmt.Errorf("command %q requires a parameter", name)
			}
			param = rest[i+1]
			i++
		}

		switch name {
		case "get_prefix":
			p = p.GetPrefix()
		case "get_path_and_prefix":
			p = p.GetPathAndPrefix()
		case "append_suffix":
			p = p.AppendSuffix(param)
		case "replace_suffix":
			p = p.ReplaceSuffix(param)
		case "delete_suffix":
			p = p.DeleteSuffix()
		case "repath":
			p = p.Repath(param)
		}
	}

	fmt.Println(p.String())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
