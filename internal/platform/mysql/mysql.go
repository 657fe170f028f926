package mysql

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// New opens the MySQL transcript store used when source.driver is "mysql".
func New(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, goerr.Wrap(err, "open mysql failed")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, goerr.Wrap(err, "get mysql sql db failed")
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, goerr.Wrap(err, "ping mysql failed")
	}

	return db, nil
}
