package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/config"
	"github.com/pingcap-incubator/dictkv/kv/kvengine"
	"github.com/spf13/cobra"
)

var (
	configPath string
	engineName string
	dbPath     string

	globalContext context.Context
	globalCancel  context.CancelFunc
)

func loadConfig() *config.Config {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFromFile(configPath); err != nil {
			log.Fatal(err)
		}
	}
	if engineName != "" {
		conf.Engine = engineName
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	if err := conf.Validate(); err != nil {
		log.Fatal(err)
	}
	log.SetLevelByString(conf.LogLevel)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	return conf
}

func openEngine() *kvengine.KVEngine {
	e, err := kvengine.Open(loadConfig())
	if err != nil {
		log.Fatal(err)
	}
	return e
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		globalCancel()
	}()

	rootCmd := &cobra.Command{
		Use:   "dictkv-ctl",
		Short: "Inspect and exercise a dictkv storage engine",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "storage engine: memory, badger or leveldb")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "data directory")

	rootCmd.AddCommand(
		newDecodeKeyCommand(),
		newIdentsCommand(),
		newScanCommand(),
		newLoadCommand(),
		newShellCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(rootCmd.UsageString())
		os.Exit(1)
	}
	globalCancel()
}
