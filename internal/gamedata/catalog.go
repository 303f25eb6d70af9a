package gamedata

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"ti-tracker/internal/logger"
)

//go:embed seed_items.json
var seedItemsJSON []byte

// Item is one row of the item catalog: the identity and naming of a
// ConfigBaseId. Prices live elsewhere; this is static metadata.
type Item struct {
	ConfigBaseID int64  `json:"config_base_id"`
	NameEN       string `json:"name_en"`
	NameCN       string `json:"name_cn"`
	TypeCN       string `json:"type_cn"`
	IconURL      string `json:"icon_url"`
}

// Catalog answers per-item policy questions derived from the item table.
// Rebuild it whenever catalog rows change; reads are lock-free.
type Catalog struct {
	items       map[int64]Item
	gearAllowed map[int64]bool
}

// NewCatalog indexes the given items and precomputes the gear allowlist.
func NewCatalog(items []Item) *Catalog {
	c := &Catalog{
		items:       make(map[int64]Item, len(items)),
		gearAllowed: make(map[int64]bool),
	}
	for _, it := range items {
		c.items[it.ConfigBaseID] = it
		if GearTypeAllowed(it.TypeCN) {
			c.gearAllowed[it.ConfigBaseID] = true
		}
	}
	return c
}

// Item returns catalog metadata for a ConfigBaseId.
func (c *Catalog) Item(typeID int64) (Item, bool) {
	it, ok := c.items[typeID]
	return it, ok
}

// Name returns the English display name, falling back to the Chinese name
// and then to the numeric id.
func (c *Catalog) Name(typeID int64) string {
	it, ok := c.items[typeID]
	if !ok {
		return fmt.Sprintf("Unknown %d", typeID)
	}
	if it.NameEN != "" {
		return it.NameEN
	}
	if it.NameCN != "" {
		return it.NameCN
	}
	return fmt.Sprintf("Unknown %d", typeID)
}

// Excluded reports whether a slot change should be dropped from the loot
// ledger: gear-page items count only when their category is allowlisted.
func (c *Catalog) Excluded(pageID int, typeID int64) bool {
	if pageID != PageGear {
		return false
	}
	return !c.gearAllowed[typeID]
}

// Size returns the number of indexed items.
func (c *Catalog) Size() int {
	return len(c.items)
}

// SeedItems decodes the bundled starter catalog: the core currencies and
// league items needed for a usable first run before any cloud sync.
func SeedItems() ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(seedItemsJSON, &items); err != nil {
		return nil, fmt.Errorf("decode seed catalog: %w", err)
	}
	logger.Section("Seed Catalog")
	logger.Stats("Items", len(items))
	return items, nil
}
