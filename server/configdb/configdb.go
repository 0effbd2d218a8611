package configdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// ConfigDB holds the persisted state of the system: registered cameras,
// agents, and miscellaneous variables.
type ConfigDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewConfigDB(logger logs.Log, dbFilename string) (*ConfigDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0770)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ConfigDB{
		Log: logger,
		DB:  db,
	}, nil
}

// Well-known keys in the variable table. These are settings written at
// provisioning time that must survive an empty or missing config file.
const (
	VarSignalingURL = "signalingURL"
	VarICEServers   = "iceServers" // JSON array of ICE server entries
)

func (c *ConfigDB) GetVariable(key string) (string, error) {
	v := Variable{}
	if err := c.DB.Where("key = ?", key).Find(&v).Error; err != nil {
		return "", err
	}
	return v.Value, nil
}

func (c *ConfigDB) SetVariable(key, value string) error {
	return c.DB.Save(&Variable{Key: key, Value: value}).Error
}
