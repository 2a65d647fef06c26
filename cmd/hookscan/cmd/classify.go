package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/hookengine/internal/insn"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().String("addr", "0", "address the first byte lives at")
	viper.BindPFlag("classify.addr", classifyCmd.Flags().Lookup("addr"))
}

var classifyCmd = &cobra.Command{
	Use:   "classify HEX...",
	Short: "Classify a byte string instruction by instruction",
	Example: `  hookscan classify --mode 32 55 89E5 83EC10
  hookscan classify --mode 64 "49 3b 66 10 76 2b"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := modeFromConfig()
		if err != nil {
			return err
		}
		addr, err := strconv.ParseUint(viper.GetString("classify.addr"), 0, 64)
		if err != nil {
			return errors.Wrap(err, "bad --addr")
		}
		code, err := parseHex(args)
		if err != nil {
			return err
		}
		rows, err := classifyAll(code, uintptr(addr), mode)
		renderRows(cmd.OutOrStdout(), rows, viper.GetBool("color"))
		return err
	},
}

func parseHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(" ", "", ",", "", "0x", "", "\\x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "bad hex")
	}
	return b, nil
}

type row struct {
	Offset int
	Bytes  []byte
	Desc   insn.Descriptor
	Asm    string
}

// classifyAll walks code until it ends or an instruction is refused. The
// rows decoded before a failure are returned with the error.
func classifyAll(code []byte, addr uintptr, mode insn.Mode) ([]row, error) {
	var rows []row
	for off := 0; off < len(code); {
		pc := addr + uintptr(off)
		d, err := insn.Classify(code[off:], pc, mode)
		if err != nil {
			return rows, err
		}
		r := row{Offset: off, Bytes: code[off : off+d.TotalLength], Desc: d}
		if inst, err := x86asm.Decode(r.Bytes, int(mode)); err == nil {
			r.Asm = x86asm.IntelSyntax(inst, uint64(pc), nil)
		}
		rows = append(rows, r)
		off += d.TotalLength
	}
	return rows, nil
}

func renderRows(w io.Writer, rows []row, colorEnabled bool) {
	header := color.New(color.FgCyan, color.Bold)
	rel := color.New(color.FgYellow)
	if !colorEnabled {
		header.DisableColor()
		rel.DisableColor()
	}
	header.Fprintf(w, "%-6s %-32s %3s %3s %3s %3s  %s\n", "off", "bytes", "pfx", "len", "rel", "cpy", "asm")
	for _, r := range rows {
		line := fmt.Sprintf("%-6d %-32s %3d %3d %3d %3d  %s\n",
			r.Offset, fmt.Sprintf("% X", r.Bytes),
			r.Desc.PrefixLength, r.Desc.TotalLength, r.Desc.RelativeFieldSize, r.Desc.RelocatedLength,
			r.Asm)
		if r.Desc.Relative() {
			rel.Fprint(w, line)
		} else {
			fmt.Fprint(w, line)
		}
	}
}
