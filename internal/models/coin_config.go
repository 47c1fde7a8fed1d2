package models

import "gorm.io/gorm"

// CoinConfig is the per-symbol trading whitelist entry.
// Operators create and edit these rows; the engine only reads them.
type CoinConfig struct {
	gorm.Model
	Symbol            string  `gorm:"uniqueIndex;not null" json:"symbol"`
	Active            bool    `gorm:"default:true" json:"active"`
	MinProfitFraction float64 `json:"min_profit_fraction"`
	MaxPositionSize   float64 `json:"max_position_size"`
	Leverage          int     `gorm:"default:1" json:"leverage"`
}
