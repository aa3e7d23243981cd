package entity

import (
	"time"
)

// Migration is one applied row of the append-only migration ledger.
type Migration struct {
	Version   int `gorm:"primaryKey;autoIncrement:false"`
	AppliedAt time.Time
}

func (Migration) TableName() string { return "_migrations" }
