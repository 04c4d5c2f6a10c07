package symctl

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/provider"
	"github.com/manu343726/symctl/internal/symbolicate/symerr"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

var (
	tableRoot string
	tableYAML bool
)

var tableCmd = &cobra.Command{
	Use:   "table <debug-name> <debug-id-or-nil>",
	Short: "Dump the compact symbol table for a binary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		debugName := args[0]
		id, err := parseIdArg(args[1])
		if err != nil {
			return err
		}

		p := provider.Directory{Root: tableRoot}
		query := symtab.SymbolicationQuery{DebugName: debugName, DebugId: id}
		table, err := dispatch.GetCompactSymbolTable(context.Background(), query, p)
		if err != nil {
			if handleNilIdRetry(err) {
				return nil
			}
			return err
		}

		if tableYAML {
			out, err := table.Dump()
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			return nil
		}

		bold := color.New(color.Bold)
		for i := 0; i < table.Len(); i++ {
			bold.Printf("0x%x", table.Addr[i])
			fmt.Printf("  %s\n", table.Name(i))
		}
		return nil
	},
}

func init() {
	tableCmd.Flags().StringVar(&tableRoot, "root", ".", "directory to search for candidate binaries")
	tableCmd.Flags().BoolVar(&tableYAML, "yaml", false, "dump the table as a YAML snapshot")
}

// parseIdArg accepts the literal "nil" for the nil-id retry protocol, or
// a breakpad-hex debug id otherwise.
func parseIdArg(s string) (debugid.DebugId, error) {
	if s == "nil" {
		return debugid.Nil, nil
	}
	return debugid.Parse(s)
}

// handleNilIdRetry implements the CLI side of the nil-id retry protocol:
// on an ambiguous-id error, print the candidate id(s) to stderr and exit
// 0 rather than surfacing a failure.
func handleNilIdRetry(err error) bool {
	var unmatched *symerr.UnmatchedDebugId
	if errors.As(err, &unmatched) && unmatched.Actual.IsNil() {
		fmt.Fprintf(os.Stderr, "ambiguous debug id, candidate: %s\n", unmatched.Expected)
		return true
	}
	var multiArch *symerr.NoMatchMultiArch
	if errors.As(err, &multiArch) {
		fmt.Fprintln(os.Stderr, "ambiguous debug id, candidates:")
		for _, id := range multiArch.ExpectedIds {
			fmt.Fprintf(os.Stderr, "  %s\n", id)
		}
		return true
	}
	return false
}
