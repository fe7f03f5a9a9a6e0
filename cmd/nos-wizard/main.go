package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nithronos/poolwizard/internal/config"
)

var (
	// Version info (set by build)
	Version   = "dev"
	GitCommit = "unknown"

	cfgFile    string
	baseURL    string
	token      string
	stateDir   string
	logFile    string
	outputJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "nos-wizard",
	Short: "NithronOS storage pool setup wizard",
	Long: `nos-wizard walks through creating the NithronOS storage pool:
choosing data, parity and cache disks, then formatting and wiring them
with SnapRAID and MergerFS through the storage API.

Progress is saved after every step, so an interrupted wizard resumes
where it left off.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "NithronOS API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for wizard state and run records")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newStatusCmd(),
		newResetCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	viper.SetEnvPrefix("NOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err == nil && verbose {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

// loadConfig layers command-line flags over the config file and NOS_*
// environment.
func loadConfig() config.Config {
	var cfg config.Config
	if cfgFile != "" {
		cfg = config.Load(cfgFile)
	} else {
		cfg = config.FromEnv()
	}
	if v := viper.GetString("url"); v != "" {
		cfg.BackendURL = v
	}
	if v := viper.GetString("token"); v != "" {
		cfg.Token = v
	}
	if v := viper.GetString("state-dir"); v != "" {
		cfg.StateDir = v
	}
	if verbose {
		cfg.LogLevel = zerolog.DebugLevel
	}
	return cfg
}

// logFilePath is --log-file or NOS_LOG_FILE.
func logFilePath() string { return viper.GetString("log-file") }

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
