package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/index"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Locate messages by type and time",
}

var queryFirstCmd = &cobra.Command{
	Use:   "first <log> <type>",
	Short: "Print the first message of a type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(args[0], func(ix *index.LogIndex) error {
			return runEnd(cmd.OutOrStdout(), ix, args[1], false)
		})
	},
}

var queryLastCmd = &cobra.Command{
	Use:   "last <log> <type>",
	Short: "Print the last message of a type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(args[0], func(ix *index.LogIndex) error {
			return runEnd(cmd.OutOrStdout(), ix, args[1], true)
		})
	},
}

var queryAtCmd = &cobra.Command{
	Use:   "at <log> <type> <time>",
	Short: "Print the first message of a type at or after a time",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, _ := cmd.Flags().GetInt("entity")
		start, _ := cmd.Flags().GetInt("start")
		return withIndex(args[0], func(ix *index.LogIndex) error {
			return runAt(cmd.OutOrStdout(), ix, args[1], args[2], entity, start)
		})
	},
}

var queryBeforeCmd = &cobra.Command{
	Use:   "before <log> <type> <time>",
	Short: "Print the last message of a type at or before a time",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, _ := cmd.Flags().GetInt("entity")
		return withIndex(args[0], func(ix *index.LogIndex) error {
			return runBefore(cmd.OutOrStdout(), ix, args[1], args[2], entity)
		})
	},
}

var queryAdvanceCmd = &cobra.Command{
	Use:   "advance <log> <time>",
	Short: "Print the position of the first message at or after a time",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetInt("start")
		return withIndex(args[0], func(ix *index.LogIndex) error {
			return runAdvance(cmd.OutOrStdout(), ix, args[1], start)
		})
	},
}

func init() {
	queryAtCmd.Flags().Int("entity", index.AnyEntity, "source entity, -1 for any")
	queryAtCmd.Flags().Int("start", 0, "position to search from")
	queryBeforeCmd.Flags().Int("entity", index.AnyEntity, "source entity, -1 for any")
	queryAdvanceCmd.Flags().Int("start", 0, "position to search from")

	queryCmd.AddCommand(queryFirstCmd, queryLastCmd, queryAtCmd, queryBeforeCmd, queryAdvanceCmd)
}

func withIndex(path string, fn func(*index.LogIndex) error) error {
	ix, err := openIndex(path)
	if err != nil {
		return err
	}
	defer ix.Close()
	return fn(ix)
}

type queryResult struct {
	Index   int         `json:"index"`
	Message interface{} `json:"message"`
}

func printMessage(w io.Writer, ix *index.LogIndex, i int) error {
	m, err := ix.GetMessage(i)
	if err != nil {
		return err
	}
	return printJSON(w, queryResult{Index: i, Message: m})
}

func runEnd(w io.Writer, ix *index.LogIndex, typeArg string, last bool) error {
	typ, err := parseType(ix.Registry(), typeArg)
	if err != nil {
		return err
	}
	find := ix.FirstOf
	if last {
		find = ix.LastOf
	}
	e, ok := find(typ)
	if !ok {
		return fmt.Errorf("no %s messages in log", typeArg)
	}
	return printMessage(w, ix, e.Index)
}

func runAt(w io.Writer, ix *index.LogIndex, typeArg, timeArg string, entity, start int) error {
	typ, err := parseType(ix.Registry(), typeArg)
	if err != nil {
		return err
	}
	t, err := parseSeconds(timeArg)
	if err != nil {
		return err
	}
	i, ok := ix.MessageAtOrAfter(typ, entity, start, t)
	if !ok {
		return fmt.Errorf("no %s message at or after %s", typeArg, timeArg)
	}
	return printMessage(w, ix, i)
}

func runBefore(w io.Writer, ix *index.LogIndex, typeArg, timeArg string, entity int) error {
	typ, err := parseType(ix.Registry(), typeArg)
	if err != nil {
		return err
	}
	t, err := parseSeconds(timeArg)
	if err != nil {
		return err
	}
	i, ok := ix.MessageBeforeOrAt(typ, entity, t)
	if !ok {
		return fmt.Errorf("no %s message at or before %s", typeArg, timeArg)
	}
	return printMessage(w, ix, i)
}

func runAdvance(w io.Writer, ix *index.LogIndex, timeArg string, start int) error {
	t, err := parseSeconds(timeArg)
	if err != nil {
		return err
	}
	i := ix.AdvanceToTime(start, t)
	if i >= ix.Len() {
		fmt.Fprintf(w, "%d (end of log)\n", i)
		return nil
	}
	fmt.Fprintf(w, "%d %s %s\n", i, formatTime(ix.TimeOf(i)), typeName(ix.Registry(), ix.TypeOf(i)))
	return nil
}
