package positions

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
)

//go:embed positions.yaml
var defaultCatalog []byte

var (
	ErrUnknownCategory = errors.New("unknown position category")
	ErrUnknownPosition = errors.New("unknown position")
)

type Goal string

const (
	GoalWin  Goal = "win"
	GoalDraw Goal = "draw"
)

type Position struct {
	ID       string      `yaml:"id" json:"id"`
	Category string      `yaml:"category" json:"category"`
	Title    string      `yaml:"title" json:"title"`
	FEN      string      `yaml:"fen" json:"fen"`
	Goal     Goal        `yaml:"goal" json:"goal"`
	Player   rules.Color `yaml:"player" json:"player"`
	// SideToMove is derived from FEN.
	SideToMove rules.Color `yaml:"-" json:"side_to_move"`
}

// PlayerMovesFirst reports whether the session starts on the player's turn.
func (p Position) PlayerMovesFirst() bool { return p.Player == p.SideToMove }

type file struct {
	Positions []Position `yaml:"positions"`
}

type Catalog struct {
	mu    sync.Mutex
	rng   *rand.Rand
	all   []Position
	byID  map[string]Position
	byCat map[string][]Position
}

type Option func(*Catalog)

// WithSeed makes RandomPosition reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Catalog) { c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// New loads the embedded catalog.
func New(opts ...Option) (*Catalog, error) {
	return Parse(defaultCatalog, opts...)
}

// Parse builds a catalog from YAML. Every position must load, be in play
// and fit in the tablebase.
func Parse(raw []byte, opts ...Option) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	c := &Catalog{
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		byID:  make(map[string]Position),
		byCat: make(map[string][]Position),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i, p := range f.Positions {
		p, err := validate(p)
		if err != nil {
			return nil, fmt.Errorf("position %d (%s): %w", i, p.ID, err)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate position id %q", p.ID)
		}
		c.all = append(c.all, p)
		c.byID[p.ID] = p
		c.byCat[p.Category] = append(c.byCat[p.Category], p)
	}
	if len(c.all) == 0 {
		return nil, errors.New("position catalog is empty")
	}
	return c, nil
}

func validate(p Position) (Position, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	if p.ID == "" || p.Category == "" {
		return p, errors.New("id and category are required")
	}
	st, err := rules.Inspect(p.FEN)
	if err != nil {
		return p, err
	}
	if st.GameOver {
		return p, errors.New("position is already decided")
	}
	if n := tablebase.CountPieces(p.FEN); n > tablebase.DefaultMaxPieces {
		return p, fmt.Errorf("%d pieces exceed the tablebase limit", n)
	}
	p.SideToMove = st.Turn
	switch p.Player {
	case "":
		p.Player = st.Turn
	case rules.White, rules.Black:
	default:
		return p, fmt.Errorf("player must be white or black, got %q", p.Player)
	}
	switch p.Goal {
	case "":
		p.Goal = GoalWin
	case GoalWin, GoalDraw:
	default:
		return p, fmt.Errorf("goal must be win or draw, got %q", p.Goal)
	}
	return p, nil
}

// RandomPosition picks a position from category, or from the whole catalog
// when category is empty.
func (c *Catalog) RandomPosition(ctx context.Context, category string) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	pool := c.all
	if category = strings.ToLower(strings.TrimSpace(category)); category != "" {
		var ok bool
		if pool, ok = c.byCat[category]; !ok {
			return Position{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
		}
	}
	c.mu.Lock()
	idx := c.rng.IntN(len(pool))
	c.mu.Unlock()
	return pool[idx], nil
}

func (c *Catalog) Get(id string) (Position, error) {
	p, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}
	return p, nil
}

func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.byCat))
	for k := range c.byCat {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// All returns the catalog in file order.
func (c *Catalog) All() []Position { return slices.Clone(c.all) }
