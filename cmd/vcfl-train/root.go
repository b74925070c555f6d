package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vcfl-train",
	Short: "Train a person re-identification model",
	Long: `vcfl-train trains an embedding network on a Market-1501 style
dataset with a weighted combination of global and local triplet losses,
identity and view classification losses, a visual word matching loss and
a centroid loss.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.AddCommand(trainCmd, configCmd)
	addConfigFlags(trainCmd)
	addConfigFlags(configCmd)
}

func initConfig() {
	// The .env file is optional.
	_ = godotenv.Load()
}
