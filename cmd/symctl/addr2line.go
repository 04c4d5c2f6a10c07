package symctl

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/provider"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

var addr2lineRoot string

var addr2lineCmd = &cobra.Command{
	Use:   "addr2line <debug-name> <debug-id> <addr...>",
	Short: "Resolve addresses to inline stack frames",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		debugName := args[0]
		id, err := parseIdArg(args[1])
		if err != nil {
			return err
		}

		addrs := make([]uint32, 0, len(args)-2)
		for _, a := range args[2:] {
			v, err := strconv.ParseUint(a, 0, 32)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", a, err)
			}
			addrs = append(addrs, uint32(v))
		}

		p := provider.Directory{Root: addr2lineRoot}
		query := symtab.SymbolicationQuery{DebugName: debugName, DebugId: id, Addresses: addrs}
		entries, err := dispatch.GetSymbolicationResult(context.Background(), query, p)
		if err != nil {
			if handleNilIdRetry(err) {
				return nil
			}
			return err
		}

		addr := color.New(color.FgCyan, color.Bold)
		for _, e := range entries {
			addr.Printf("0x%x\n", e.Address)
			for depth, frame := range e.Frames {
				name := "??"
				if frame.Function != nil {
					name = *frame.Function
				}
				loc := ""
				if frame.FilePath != nil {
					loc = *frame.FilePath
					if frame.Line != nil {
						loc = fmt.Sprintf("%s:%d", loc, *frame.Line)
					}
				}
				fmt.Printf("  #%d %s  %s\n", depth, name, loc)
			}
		}
		return nil
	},
}

func init() {
	addr2lineCmd.Flags().StringVar(&addr2lineRoot, "root", ".", "directory to search for candidate binaries")
}
