package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	cl "github.com/aep/docbase/client"
	sr "github.com/aep/docbase/server"
)

var rootCmd = &cobra.Command{
	Use:   "docbase",
	Short: "a real-time document database",
}

func init() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, nil)))
	rootCmd.AddCommand(sr.CMD)
	rootCmd.AddCommand(cl.CMD)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
