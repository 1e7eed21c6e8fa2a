package main

import (
	"encoding/json"
	"os"
)

// Config holds everything the server needs at startup: bind hosts/port,
// password, cipher method, connect timeout, and PID file path. Shaped like
// the teacher's server/config.go Config struct.
type Config struct {
	Listen     string `json:"listen"`
	Password   string `json:"password"`
	Method     string `json:"method"`
	Timeout    int    `json:"timeout"`
	PidFile    string `json:"pidfile"`
	Log        string `json:"log"`
	Verbose    bool   `json:"verbose"`
	Quiet      bool   `json:"quiet"`
	SnmpLog    string `json:"snmplog"`
	SnmpPeriod int    `json:"snmpperiod"`
	CloseWait  int    `json:"closewait"`
}

// parseJSONConfig overrides config in place from a JSON file, matching the
// teacher's server/config.go parseJSONConfig: CLI flags establish defaults,
// the file (when given) overrides them.
func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
