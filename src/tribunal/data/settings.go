package data

import (
	"log"
	"strconv"
	"sync"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var settings struct {
	sync.RWMutex
	values map[string]string
}

// LoadSettings primes the in-memory settings cache from the database.
func LoadSettings(db *gorm.DB) error {
	var rows []types.Setting
	if err := db.Find(&rows).Error; err != nil {
		return err
	}

	settings.Lock()
	defer settings.Unlock()
	settings.values = make(map[string]string, len(rows))
	for _, s := range rows {
		settings.values[s.Name] = s.Value
	}
	return nil
}

// RefreshSettings reloads the cache after a setting row changes.
func RefreshSettings(db *gorm.DB) error {
	return LoadSettings(db)
}

// GetSetting returns the cached value for a setting, or "" when unset.
func GetSetting(name string) string {
	settings.RLock()
	defer settings.RUnlock()
	return settings.values[name]
}

// GetSettingUint reads a numeric protocol parameter, falling back to def
// when the setting is unset or malformed. Components read tunable
// parameters through this at use time, so an executed parameter change
// applies without a restart.
func GetSettingUint(name string, def uint64) uint64 {
	v := GetSetting(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Printf("settings: bad value for %s: %v", name, err)
		return def
	}
	return n
}
