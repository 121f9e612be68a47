package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dataquest",
	Short: "Daily dataset ingestion and analysis pipeline",
	Long:  `Fetches the provider dataset, detects changes against stored state, and on change commits, analyzes, and publishes the new data with FSM orchestration.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/runs.db", "Run journal SQLite path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("storage-bucket", "rearc-quest-datasets", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("provider-contact", "", "Contact string sent to the data provider")
	rootCmd.PersistentFlags().String("notification-queue", "", "SQS queue URL for run outcomes")
	rootCmd.PersistentFlags().Duration("analysis-timeout", 20*time.Minute, "Timeout for notebook execution")
	rootCmd.PersistentFlags().Int("fetch-max-retries", 3, "Max retries for transient fetch failures")

	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("storage-bucket", rootCmd.PersistentFlags().Lookup("storage-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("provider-contact", rootCmd.PersistentFlags().Lookup("provider-contact"))
	viper.BindPFlag("notification-queue", rootCmd.PersistentFlags().Lookup("notification-queue"))
	viper.BindPFlag("analysis-timeout", rootCmd.PersistentFlags().Lookup("analysis-timeout"))
	viper.BindPFlag("fetch-max-retries", rootCmd.PersistentFlags().Lookup("fetch-max-retries"))
}
