package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/config"
	"github.com/zulandar/marketyard/internal/db"
	"golang.org/x/term"
	"gorm.io/gorm"
)

const defaultConfigPath = "marketyard.yaml"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Marketyard config file")
}

// connectFromConfig loads config and connects to the configured database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// parseDecimal parses a flag value such as "12.5".
func parseDecimal(name, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s %q is not a number", name, value)
	}
	return d, nil
}

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question on an interactive terminal. When stdin is
// not a terminal it refuses, so scripts must pass --yes explicitly.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if !stdinIsTerminal() {
		return false, fmt.Errorf("refusing to prompt without a terminal; re-run with --yes to confirm")
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
