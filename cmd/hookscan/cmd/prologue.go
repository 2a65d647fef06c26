package cmd

import (
	"fmt"
	"io"
	"regexp"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/k2io/hookengine/internal/insn"
	symbols "github.com/k2io/hookengine/internal/objSymbols"
)

func init() {
	rootCmd.AddCommand(prologueCmd)
	prologueCmd.Flags().String("filter", "", "only symbols matching this regular expression")
	prologueCmd.Flags().Int("limit", 0, "stop after this many symbols (0 for all)")
	viper.BindPFlag("scan.filter", prologueCmd.Flags().Lookup("filter"))
	viper.BindPFlag("scan.limit", prologueCmd.Flags().Lookup("limit"))
}

var prologueCmd = &cobra.Command{
	Use:   "prologue BINARY [SYMBOL...]",
	Short: "Size the prologues of the functions in an executable",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := symbols.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		mode, err := modeFromConfig()
		if err != nil {
			return err
		}
		if viper.GetString("mode") == "host" || viper.GetString("mode") == "" {
			switch f.Bits() {
			case 32:
				mode = insn.Mode32
			case 64:
				mode = insn.Mode64
			default:
				return errors.Errorf("%s: not an x86 executable", args[0])
			}
		}
		log.WithFields(log.Fields{"format": f.Format(), "mode": mode}).Debug("opened")

		syms, err := f.Symbols()
		if err != nil {
			return err
		}
		syms, err = selectSymbols(syms, args[1:], viper.GetString("scan.filter"), viper.GetInt("scan.limit"))
		if err != nil {
			return err
		}
		results := scan(f, syms, mode)
		renderScan(cmd.OutOrStdout(), results, viper.GetBool("color"))
		return nil
	},
}

// codeSource is the part of symbols.File the scan reads from.
type codeSource interface {
	Code(addr uint64, n int) ([]byte, error)
}

type scanResult struct {
	Symbol symbols.Symbol
	Sizes  insn.Sizes
	Err    error
}

// Slot is the buffer space hooking the symbol takes.
func (r scanResult) Slot() int {
	return r.Sizes.Original + r.Sizes.Relocated + insn.JmpSize
}

func selectSymbols(syms []symbols.Symbol, names []string, filter string, limit int) ([]symbols.Symbol, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return nil, errors.Wrap(err, "bad --filter")
		}
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []symbols.Symbol
	for _, s := range syms {
		if len(want) > 0 && !want[s.Name] {
			continue
		}
		if re != nil && !re.MatchString(s.Name) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(want) > 0 && len(out) == 0 {
		return nil, errors.New("none of the named symbols were found")
	}
	return out, nil
}

func scan(src codeSource, syms []symbols.Symbol, mode insn.Mode) []scanResult {
	results := make([]scanResult, 0, len(syms))
	for _, s := range syms {
		r := scanResult{Symbol: s}
		code, err := src.Code(s.Addr, insn.JmpSize-1+insn.MaxInstLen)
		if err == nil {
			r.Sizes, err = insn.SizePrologue(code, uintptr(s.Addr), mode)
		}
		r.Err = err
		results = append(results, r)
	}
	return results
}

func renderScan(w io.Writer, results []scanResult, colorEnabled bool) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	if !colorEnabled {
		ok.DisableColor()
		bad.DisableColor()
	}
	var hookable, total int
	for _, r := range results {
		if r.Err != nil {
			bad.Fprintf(w, "%#016x %s: %v\n", r.Symbol.Addr, r.Symbol.Name, r.Err)
			continue
		}
		hookable++
		total += r.Slot()
		ok.Fprintf(w, "%#016x %s: original %d relocated %d slot %d\n",
			r.Symbol.Addr, r.Symbol.Name, r.Sizes.Original, r.Sizes.Relocated, r.Slot())
	}
	fmt.Fprintf(w, "%s of %s functions hookable, batch buffer %s\n",
		humanize.Comma(int64(hookable)), humanize.Comma(int64(len(results))), humanize.IBytes(uint64(total)))
}
