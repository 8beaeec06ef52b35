// internal/models/card.go
package models

// ElementalType is the category of a card; it decides damage multipliers in combat.
type ElementalType string

const (
	TypeNormal   ElementalType = "NORMAL"
	TypeFire     ElementalType = "FIRE"
	TypeWater    ElementalType = "WATER"
	TypeElectric ElementalType = "ELECTRIC"
	TypeGrass    ElementalType = "GRASS"
	TypeIce      ElementalType = "ICE"
	TypeFighting ElementalType = "FIGHTING"
	TypePoison   ElementalType = "POISON"
	TypeGround   ElementalType = "GROUND"
	TypeFlying   ElementalType = "FLYING"
	TypePsychic  ElementalType = "PSYCHIC"
	TypeBug      ElementalType = "BUG"
	TypeRock     ElementalType = "ROCK"
	TypeGhost    ElementalType = "GHOST"
	TypeDragon   ElementalType = "DRAGON"
	TypeDark     ElementalType = "DARK"
	TypeSteel    ElementalType = "STEEL"
	TypeFairy    ElementalType = "FAIRY"
)

// Card is a playable unit. Cards held by a battle are value copies of the catalog rows,
// so HP can drop during combat without touching the catalog.
type Card struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	HP     int           `json:"hp"`
	Attack int           `json:"attack"`
	Type   ElementalType `json:"type"`
}
