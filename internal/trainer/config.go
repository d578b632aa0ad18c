package trainer

import "time"

type Config struct {
	// OptimalMoveLimit is how many best-tier moves count as optimal.
	OptimalMoveLimit int
	OpponentDelay    time.Duration
	// LookupTimeout bounds every tablebase call made by the trainer.
	LookupTimeout time.Duration
	RecordTimeout time.Duration
	// RandomFallback lets the opponent play a random legal move when the
	// tablebase has nothing to say.
	RandomFallback   bool
	PromotionChooser PromotionChooser
}

func DefaultConfig() Config {
	return Config{
		OptimalMoveLimit: 3,
		OpponentDelay:    600 * time.Millisecond,
		LookupTimeout:    8 * time.Second,
		RecordTimeout:    5 * time.Second,
		RandomFallback:   true,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.OptimalMoveLimit <= 0 {
		c.OptimalMoveLimit = def.OptimalMoveLimit
	}
	if c.OpponentDelay < 0 {
		c.OpponentDelay = 0
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = def.LookupTimeout
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = def.RecordTimeout
	}
	return c
}
