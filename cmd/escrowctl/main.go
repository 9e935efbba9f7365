package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultConfigPath = "./escrow.toml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	configPath := defaultConfigFile()
	args, err := applyGlobalFlags(args, &configPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return withNode(configPath, args[0], stderr, func(n *node) int {
		return cmd(n, args[1:], stdout, stderr)
	})
}

func defaultConfigFile() string {
	if path := strings.TrimSpace(os.Getenv("ESCROW_CONFIG")); path != "" {
		return path
	}
	return defaultConfigPath
}

func applyGlobalFlags(args []string, configPath *string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --config")
			}
			*configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			*configPath = strings.TrimPrefix(arg, "--config=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrowctl [--config <path>] <command> [flags]

Setup:
  init                                  apply genesis roles, fees and allocations from the config
  generate-key [--out wallet.key]       create a key file and print its address
  info                                  print roles, fees, pause flag and holding balance

Payments:
  create  --caller <addr> --payer <addr> --payee <addr> --amount <n>
  pay     --caller <addr> --id <n>
  release --caller <addr> --id <n>
  refund  --caller <addr> --id <n>
  get     --id <n>
  count

Administration:
  set-fee  --caller <addr> --kind protection|commission --value <n>
  set-role --caller <addr> --role marketplace|dispute --address <addr>
  pause    --caller <addr>
  unpause  --caller <addr>
  withdraw --caller <addr>

Ledger and audit:
  balance <addr>
  mint    --to <addr> --amount <n>
  events  [--from <seq>]
  audit
  index
`)
}
