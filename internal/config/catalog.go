package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NullBlockID is the reserved id of the empty block.
const NullBlockID uint8 = 0

// BlockDef describes one block type.
type BlockDef struct {
	ID     uint8   `yaml:"id"`
	Name   string  `yaml:"name"`
	Health float64 `yaml:"health"` // Total damage needed to dig it out
	Drop   string  `yaml:"drop"`   // Item id dropped when dug ("" = nothing)
	Color  string  `yaml:"color"`  // Minimap color (#rrggbb)
}

// ItemDef describes one item type. Tools are items with Digging set.
type ItemDef struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Digging    bool    `yaml:"digging"`
	DamageRate float64 `yaml:"damage_rate"` // Block health removed per second
	Color      string  `yaml:"color"`
}

// OreDef places a block type below a depth with a per-block chance.
type OreDef struct {
	Block    string  `yaml:"block"`
	MinDepth int     `yaml:"min_depth"` // Rows below the surface
	Chance   float64 `yaml:"chance"`
}

// Catalog is the immutable block/item table loaded once at startup and
// passed by reference to the terrain and the dig reconciler.
type Catalog struct {
	Blocks      []BlockDef `yaml:"blocks"`
	Items       []ItemDef  `yaml:"items"`
	Ores        []OreDef   `yaml:"ores"`
	SurfaceFill string     `yaml:"surface_fill"` // Top layer block
	DeepFill    string     `yaml:"deep_fill"`    // Below DeepFillDepth
	DeepDepth   int        `yaml:"deep_fill_depth"`
	StarterTool string     `yaml:"starter_tool"`

	blocksByID   map[uint8]BlockDef
	blocksByName map[string]BlockDef
	itemsByID    map[string]ItemDef
}

// DefaultCatalog returns the built-in catalog used when no CATALOG_PATH is set.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Blocks: []BlockDef{
			{ID: NullBlockID, Name: "NullBlockType", Color: "#0c0c1c"},
			{ID: 1, Name: "Dirt", Health: 40, Drop: "dirt", Color: "#7a5230"},
			{ID: 2, Name: "Stone", Health: 80, Drop: "stone", Color: "#6e6e6e"},
			{ID: 3, Name: "Copper", Health: 100, Drop: "copper_ore", Color: "#c87533"},
			{ID: 4, Name: "Iron", Health: 160, Drop: "iron_ore", Color: "#a19d94"},
			{ID: 5, Name: "Bedrock", Health: 1e9, Color: "#1e1e1e"},
		},
		Items: []ItemDef{
			{ID: "wood_pickaxe", Name: "Wooden Pickaxe", Digging: true, DamageRate: 200, Color: "#b5894f"},
			{ID: "stone_pickaxe", Name: "Stone Pickaxe", Digging: true, DamageRate: 400, Color: "#8c8c8c"},
			{ID: "iron_pickaxe", Name: "Iron Pickaxe", Digging: true, DamageRate: 600, Color: "#d8d8d8"},
			{ID: "dirt", Name: "Dirt", Color: "#7a5230"},
			{ID: "stone", Name: "Stone", Color: "#6e6e6e"},
			{ID: "copper_ore", Name: "Copper Ore", Color: "#c87533"},
			{ID: "iron_ore", Name: "Iron Ore", Color: "#a19d94"},
		},
		Ores: []OreDef{
			{Block: "Copper", MinDepth: 8, Chance: 0.06},
			{Block: "Iron", MinDepth: 40, Chance: 0.03},
		},
		SurfaceFill: "Dirt",
		DeepFill:    "Stone",
		DeepDepth:   6,
		StarterTool: "stone_pickaxe",
	}
	if err := c.prepare(); err != nil {
		panic(fmt.Sprintf("default catalog invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalog from disk and validates it.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates YAML catalog bytes.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog.yaml: %w", err)
	}
	if err := c.prepare(); err != nil {
		return nil, fmt.Errorf("catalog.yaml: %w", err)
	}
	return &c, nil
}

func (c *Catalog) prepare() error {
	c.blocksByID = make(map[uint8]BlockDef, len(c.Blocks))
	c.blocksByName = make(map[string]BlockDef, len(c.Blocks))
	c.itemsByID = make(map[string]ItemDef, len(c.Items))

	for _, it := range c.Items {
		if it.ID == "" {
			return fmt.Errorf("item with empty id")
		}
		if _, dup := c.itemsByID[it.ID]; dup {
			return fmt.Errorf("duplicate item %q", it.ID)
		}
		if it.Digging && it.DamageRate <= 0 {
			return fmt.Errorf("digging tool %q needs a positive damage_rate", it.ID)
		}
		c.itemsByID[it.ID] = it
	}

	for _, b := range c.Blocks {
		if _, dup := c.blocksByID[b.ID]; dup {
			return fmt.Errorf("duplicate block id %d", b.ID)
		}
		if b.ID != NullBlockID && b.Health <= 0 {
			return fmt.Errorf("block %q needs a positive health", b.Name)
		}
		if b.Drop != "" {
			if _, ok := c.itemsByID[b.Drop]; !ok {
				return fmt.Errorf("block %q drops unknown item %q", b.Name, b.Drop)
			}
		}
		c.blocksByID[b.ID] = b
		c.blocksByName[b.Name] = b
	}
	if _, ok := c.blocksByID[NullBlockID]; !ok {
		return fmt.Errorf("block id 0 (empty) must be declared")
	}

	for _, name := range []string{c.SurfaceFill, c.DeepFill} {
		if name == "" {
			continue
		}
		if _, ok := c.blocksByName[name]; !ok {
			return fmt.Errorf("fill block %q not declared", name)
		}
	}
	for _, ore := range c.Ores {
		if _, ok := c.blocksByName[ore.Block]; !ok {
			return fmt.Errorf("ore block %q not declared", ore.Block)
		}
	}

	if c.StarterTool != "" {
		tool, ok := c.itemsByID[c.StarterTool]
		if !ok || !tool.Digging {
			return fmt.Errorf("starter_tool %q is not a digging tool", c.StarterTool)
		}
	}
	return nil
}

// Block returns the block definition for an id.
func (c *Catalog) Block(id uint8) (BlockDef, bool) {
	b, ok := c.blocksByID[id]
	return b, ok
}

// BlockByName returns the block definition for a name.
func (c *Catalog) BlockByName(name string) (BlockDef, bool) {
	b, ok := c.blocksByName[name]
	return b, ok
}

// Item returns the item definition for an id.
func (c *Catalog) Item(id string) (ItemDef, bool) {
	it, ok := c.itemsByID[id]
	return it, ok
}

// BlockHealth returns the total health of a block type, 0 for unknown or empty blocks.
func (c *Catalog) BlockHealth(id uint8) float64 {
	if id == NullBlockID {
		return 0
	}
	return c.blocksByID[id].Health
}
