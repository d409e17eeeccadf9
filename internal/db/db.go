// Package db opens the sqlite history database and defines its tables.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Peer is the last known state of a peer, keyed by its directory id.
type Peer struct {
	ID        uint   `gorm:"primaryKey"`
	PeerID    string `gorm:"uniqueIndex;not null"`
	Name      string
	Addr      string
	Instance  string
	Status    string
	FirstSeen int64
	LastSeen  int64
}

// Message is one chat line, sent or received.
type Message struct {
	ID         uint   `gorm:"primaryKey"`
	PeerID     string `gorm:"index"`
	PeerName   string
	Direction  string
	Instance   string `gorm:"index:idx_message_seq"`
	Seq        uint32 `gorm:"index:idx_message_seq"`
	Text       string
	Public     bool
	OutOfOrder bool
	Status     string
	CreatedAt  int64 `gorm:"autoCreateTime:false"`
}

type Transfer struct {
	ID          uint `gorm:"primaryKey"`
	PeerID      string
	PeerAddr    string
	FileID      uint32
	Direction   string
	Name        string
	Path        string
	Size        int64
	TotalChunks int
	Status      string
	Hash        string
	Error       string
	StartedAt   int64
	FinishedAt  int64
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		return nil, fmt.Errorf("enabling wal: %w", err)
	}

	if err := db.AutoMigrate(&Peer{}, &Message{}, &Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
