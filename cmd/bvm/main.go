// bvm - contract toolchain: compile wasm modules, deploy and invoke
// them against a local variable store, and run manager apps.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Maxnflaxl/beam/bvm"
	"github.com/Maxnflaxl/beam/common"
	"github.com/Maxnflaxl/beam/log"
	"github.com/Maxnflaxl/beam/store"
	"github.com/Maxnflaxl/beam/types"
)

var (
	Version = "dev"
	Commit  = "none"
)

func openDriver(path string) (*bvm.Driver, func(), error) {
	st, err := store.NewLevelStore(path)
	if err != nil {
		return nil, nil, err
	}
	oracle := &types.FixedOracle{}
	return bvm.NewDriver(st, oracle), func() { st.Close() }, nil
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func main() {
	var (
		logLevel  string
		storePath string
		ceiling   uint64
	)

	rootCmd := &cobra.Command{
		Use:   "bvm",
		Short: "Beam contract virtual machine toolchain",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.InitLogger(logLevel)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Variable store path (empty = in-memory)")
	rootCmd.PersistentFlags().Uint64Var(&ceiling, "ceiling", 100_000_000, "Charge ceiling per invocation")

	var kind string
	compileCmd := &cobra.Command{
		Use:   "compile <in.wasm> <out.bvm>",
		Short: "Compile a wasm module into an executable image",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			code, err := os.ReadFile(args[0])
			if err != nil {
				fail("read module: %v", err)
			}
			k := bvm.KindContract
			if kind == "manager" {
				k = bvm.KindManager
			} else if kind != "contract" {
				fail("unknown kind %q", kind)
			}
			img, err := bvm.Compile(code, k)
			if err != nil {
				fail("compile: %v", err)
			}
			if err := os.WriteFile(args[1], img, 0o644); err != nil {
				fail("write image: %v", err)
			}
			fmt.Printf("compiled %s: %d methods, %d bytes\n", args[0], bvm.NumMethods(img), len(img))
		},
	}
	compileCmd.Flags().StringVar(&kind, "kind", "contract", "Module kind (contract|manager)")

	deployCmd := &cobra.Command{
		Use:   "deploy <image.bvm> [ctor-args-hex]",
		Short: "Deploy a compiled contract and run its constructor",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			img, err := os.ReadFile(args[0])
			if err != nil {
				fail("read image: %v", err)
			}
			var ctorArgs []byte
			if len(args) == 2 {
				ctorArgs = mustHex(args[1])
			}
			d, closeStore, err := openDriver(storePath)
			if err != nil {
				fail("open store: %v", err)
			}
			defer closeStore()

			cid, res := d.Deploy(img, ctorArgs, nil, nil, ceiling)
			if res.Status != bvm.StatusOk {
				fail("deploy: %s (%v)", res.Status, res.Fault)
			}
			fmt.Printf("deployed %s (charge %d)\n", cid.String(), res.ChargeConsumed)
		},
	}

	invokeCmd := &cobra.Command{
		Use:   "invoke <cid-hex> <method> [arg-words...]",
		Short: "Invoke a method of a deployed contract",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cid := types.HexToContractID(args[0])
			method, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				fail("bad method index %q", args[1])
			}
			words := make([]uint32, 0, len(args)-2)
			for _, a := range args[2:] {
				w, err := strconv.ParseUint(a, 0, 32)
				if err != nil {
					fail("bad argument word %q", a)
				}
				words = append(words, uint32(w))
			}
			d, closeStore, err := openDriver(storePath)
			if err != nil {
				fail("open store: %v", err)
			}
			defer closeStore()

			res := d.Invoke(cid, uint32(method), words, nil, nil, ceiling)
			if res.Status != bvm.StatusOk {
				fail("invoke: %s (%v)", res.Status, res.Fault)
			}
			fmt.Printf("ok: charge=%d ret=%v writes=%d\n", res.ChargeConsumed, res.Ret, len(res.Writes))
		},
	}

	var managerArgs []string
	managerCmd := &cobra.Command{
		Use:   "manager <image.bvm> <method>",
		Short: "Run a manager app method off-chain and print its document",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			img, err := os.ReadFile(args[0])
			if err != nil {
				fail("read image: %v", err)
			}
			method, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				fail("bad method index %q", args[1])
			}
			kv := make(map[string]string, len(managerArgs))
			for _, a := range managerArgs {
				k, v, ok := strings.Cut(a, "=")
				if !ok {
					fail("bad --arg %q, want key=value", a)
				}
				kv[k] = v
			}
			d, closeStore, err := openDriver(storePath)
			if err != nil {
				fail("open store: %v", err)
			}
			defer closeStore()

			res := d.RunManager(img, uint32(method), kv, [32]byte{}, ceiling)
			if res.Status != bvm.StatusOk {
				fail("manager: %s (%v)", res.Status, res.Fault)
			}
			fmt.Println(res.Doc)
			for _, k := range res.Kernels {
				fmt.Printf("kernel: cid=%s method=%d args=%x charge=%d\n",
					k.Cid.String(), k.Method, k.Args, k.Charge)
			}
		},
	}
	managerCmd.Flags().StringArrayVar(&managerArgs, "arg", nil, "Invocation argument key=value (repeatable)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bvm %s (%s)\n", Version, Commit)
		},
	}

	rootCmd.AddCommand(compileCmd, deployCmd, invokeCmd, managerCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func mustHex(s string) []byte {
	b := common.Hex2Bytes(s)
	if len(b) == 0 && len(s) > 0 {
		fail("bad hex %q", s)
	}
	return b
}
