// luk command-line entrypoint: flag handling, configuration and database
// bring-up, RCON login, and the cooperative event loop. Grounded on
// original_source/src/luk.c's main(), with log setup following the
// teacher's main.go.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"lukagent/internal/client"
	"lukagent/internal/config"
	"lukagent/internal/database"
	"lukagent/internal/rcon"
)

const defaultConfigPath = "./luk.conf"

const helpText = `luk is a permanent data storage environment for Skulltag.

Usage:
  %s [ options ]
  To quit luk when running, press Ctrl+C

Options:
  -c <path_to_file>   Specify path to a configuration file
  -d <map_lump>       Deletes data of <map_lump> from database
  -g                  Generate a blank configuration file
                      in present directory
  -h                  Display this help menu
  -p                  View loaded configuration parameters
  -s                  Skip mode. Skip the loading and saving
                      of the database file
`

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var (
		showHelp     = flag.Bool("h", false, "display the help menu")
		generateConf = flag.Bool("g", false, "generate a blank configuration file")
		printConf    = flag.Bool("p", false, "view loaded configuration parameters")
		skipMode     = flag.Bool("s", false, "skip loading and saving of the database file")
		configPath   = flag.String("c", defaultConfigPath, "path to the configuration file")
		deleteMap    = flag.String("d", "", "delete a map's data and exit")
	)
	flag.Parse()

	if *showHelp {
		fmt.Printf(helpText, os.Args[0])
		return
	}

	if *generateConf {
		fmt.Println("Generating a blank configuration file in current directory")
		if err := config.GenerateTemplate(defaultConfigPath); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !*printConf {
		log.Infof("luk: reading configuration file at path: %s", *configPath)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("luk: %v", err)
		os.Exit(1)
	}

	if *printConf {
		cfg.Display()
		return
	}
	log.Info("luk: configuration file successfully read")

	db := database.New()
	if !*skipMode {
		if err := database.Load(cfg.DatabasePath, db); err != nil {
			log.Info("luk:    - will proceed without loading previous data")
		}
	} else {
		log.Info("luk: running in skip mode. no database file will be loaded or saved")
	}

	if *deleteMap != "" {
		if db.Delete(*deleteMap) {
			log.Infof("luk: successfully deleted map entry: %s", *deleteMap)
			if !*skipMode {
				if err := database.Save(cfg.DatabasePath, db); err != nil {
					log.Errorf("luk: failed to save database after deletion: %v", err)
					os.Exit(1)
				}
			}
			os.Exit(0)
		}
		log.Errorf("luk: failed to locate map entry with name: %s", *deleteMap)
		os.Exit(1)
	}

	running := atomic.NewBool(true)
	watchSignals(running)

	address := cfg.ServerAddress
	if address == "localhost" {
		address = "127.0.0.1"
	}

	c, session, err := connect(address, cfg, db, running)
	if err != nil {
		log.Errorf("luk: %v", err)
		os.Exit(1)
	}
	defer session.Close()

	if !*skipMode {
		c.SetSaveHook(func(db *database.Database) error {
			return database.Save(cfg.DatabasePath, db)
		})
	}

	log.Info("luk: =====================================================")
	c.Run()
	log.Info("luk: =====================================================")

	c.Save()
	db.Shutdown()
}

// connect dials the RCON server and logs in, retrying timed-out attempts,
// matching LukInitServer.
func connect(address string, cfg *config.Config, db *database.Database, running *atomic.Bool) (*client.Client, *rcon.Session, error) {
	session, err := rcon.Dial(address + ":" + cfg.ServerPort)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize a server connection: %w", err)
	}

	c := client.New(session, db, cfg.DatabaseSaveOnStore, running)

	log.Infof("luk: logging in to RCON server at: %s:%s", address, cfg.ServerPort)
	if err := c.Connect(cfg.ServerPassword, client.DefaultLoginRetries); err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("login failed: %w", err)
	}

	return c, session, nil
}

// watchSignals flips running to false on SIGINT, matching LukExit; the
// event loop observes it cooperatively on its next iteration.
func watchSignals(running *atomic.Bool) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		fmt.Println()
		running.Store(false)
	}()
}
