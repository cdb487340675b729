// Package config loads and validates luk's configuration file. Grounded on
// original_source/src/config.c and configuration_file_template.h, with the
// hand-rolled "key = value" line scanner replaced by github.com/pelletier/
// go-toml: the original grammar (bare key, '=', double-quoted value, '#'
// comments) is valid TOML, so there is no reason to parse it by hand.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	log "github.com/sirupsen/logrus"
)

// Config holds every parameter ConfigPopulate collects from the file.
type Config struct {
	ServerAddress       string
	ServerPort          string
	ServerPassword      string
	DatabasePath        string
	DatabaseSaveOnStore bool
}

var requiredKeys = []string{
	"server_address",
	"server_port",
	"server_password",
	"database_path",
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	for _, key := range requiredKeys {
		if !tree.Has(key) {
			return nil, fmt.Errorf("config: missing required parameter in configuration file: %s", key)
		}
	}

	serverAddress, err := stringValue(tree, "server_address")
	if err != nil {
		return nil, err
	}
	serverPort, err := stringValue(tree, "server_port")
	if err != nil {
		return nil, err
	}
	serverPassword, err := stringValue(tree, "server_password")
	if err != nil {
		return nil, err
	}
	databasePath, err := stringValue(tree, "database_path")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerAddress:  serverAddress,
		ServerPort:     serverPort,
		ServerPassword: serverPassword,
		DatabasePath:   databasePath,
	}

	if tree.Has("database_save_on_store") {
		if raw, ok := tree.Get("database_save_on_store").(string); ok {
			cfg.DatabaseSaveOnStore = raw == "true" || raw == "1"
		}
	}

	return cfg, nil
}

// stringValue reads key from tree as a string, returning a config error
// instead of panicking if the value is present but of the wrong type (e.g.
// an unquoted server_port).
func stringValue(tree *toml.Tree, key string) (string, error) {
	value, ok := tree.Get(key).(string)
	if !ok {
		return "", fmt.Errorf("config: parameter %q must be a string value", key)
	}
	return value, nil
}

// Display logs every configuration parameter, matching ConfigDisplay.
func (c *Config) Display() {
	log.Infof("server_address -> %s", c.ServerAddress)
	log.Infof("server_port -> %s", c.ServerPort)
	log.Infof("server_password -> %s", c.ServerPassword)
	log.Infof("database_path -> %s", c.DatabasePath)
	log.Infof("database_save_on_store -> %t", c.DatabaseSaveOnStore)
}

// template is the configuration file generated by -g, adapted verbatim in
// wording from LUK_COFIG_FILE_TEMPLATE.
const template = `# The IP address of the RCON server. You can use the special value
# "localhost" to refer to the current machine as the host.
server_address = "localhost"
# The port number of the server.
server_port = "10666"
# Enter the RCON password that the server uses for logging in.
server_password = ""

# Enter a file path to where you would like to have the database file
# stored at. The database file stores data that the RCON server passes to it.
database_path = "./database.lukd"
`

// GenerateTemplate writes a fresh configuration file to path. It refuses to
// overwrite an existing file.
func GenerateTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("config: checking %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
