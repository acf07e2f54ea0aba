package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Opens a database connection from a URL: "sqlite://<path>" or "postgres://...". Additional connection details (eg, password) can be passed in the postgres URL.
func SetupDatabase(dburl string, maxConnections int) (*gorm.DB, error) {
	var dial gorm.Dialector
	isSqlite := false
	openConns := maxConnections
	if strings.HasPrefix(dburl, "sqlite://") {
		sqliteSuffix := dburl[len("sqlite://"):]
		// if this isn't ":memory:", ensure that directory exists (eg, if db file is being initialized)
		if !strings.Contains(sqliteSuffix, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(sqliteSuffix), os.ModePerm); err != nil {
				return nil, err
			}
		}
		dial = sqlite.Open(sqliteSuffix)
		openConns = 1
		isSqlite = true
	} else if strings.HasPrefix(dburl, "postgresql://") || strings.HasPrefix(dburl, "postgres://") {
		dial = postgres.Open(dburl)
	} else {
		return nil, fmt.Errorf("unsupported or unrecognized database URL scheme")
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxIdleConns(20)
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite && !strings.Contains(dburl, ":memory:") {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}
