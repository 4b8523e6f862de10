package hope

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/serializer"
)

func init() {
	var c Config
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConfig)
}

// MemoryConfig configures the multi-span memory banks.
//
// Spans are EMA time constants: a bank with span n moves a
// fraction 1/n of the way toward each new value.
type MemoryConfig struct {
	Enabled bool

	UltraShortSpan int
	ShortSpan      int
	MidSpan        int
	LongSpan       int
	EpisodicSpan   int
}

// Validate checks the span invariants.
func (m *MemoryConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.UltraShortSpan <= 0 {
		return errors.New("memory: ultra-short span must be positive")
	}
	spans := []int{m.UltraShortSpan, m.ShortSpan, m.MidSpan, m.LongSpan,
		m.EpisodicSpan}
	names := []string{"ultra-short", "short", "mid", "long", "episodic"}
	for i := 1; i < len(spans); i++ {
		if spans[i] < spans[i-1] {
			return fmt.Errorf("memory: %s span is less than %s span",
				names[i], names[i-1])
		}
	}
	return nil
}

// SelfModifyConfig configures the self-modification unit.
//
// MetaLR and UpdateFrequency are validated but the update rule
// currently blends with fixed coefficients on every inner
// iteration; see the constants in selfmod.go.
type SelfModifyConfig struct {
	Enabled bool

	MetaLR          float64
	UpdateFrequency int
	WeightModDim    int
}

// Validate checks that all knobs are positive.
func (s *SelfModifyConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.MetaLR <= 0 {
		return errors.New("self-modify: meta learning rate must be positive")
	}
	if s.UpdateFrequency <= 0 {
		return errors.New("self-modify: update frequency must be positive")
	}
	if s.WeightModDim <= 0 {
		return errors.New("self-modify: weight modification dim must be positive")
	}
	return nil
}

// DualRateConfig configures the fast/slow shadow parameter
// store.
type DualRateConfig struct {
	Enabled bool

	FastLRScale            float64
	SlowLRScale            float64
	FastEMA                float64
	SlowEMA                float64
	SyncInterval           int
	GradientCompressionDim int
}

// Validate checks rate scales, EMA bounds, and dimensions.
func (d *DualRateConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	if d.FastLRScale <= 0 || d.SlowLRScale <= 0 {
		return errors.New("dual-rate: learning rate scales must be positive")
	}
	if d.FastEMA < 0 || d.FastEMA > 1 {
		return errors.New("dual-rate: fast EMA coefficient must be in [0,1]")
	}
	if d.SlowEMA < 0 || d.SlowEMA > 1 {
		return errors.New("dual-rate: slow EMA coefficient must be in [0,1]")
	}
	if d.SyncInterval <= 0 {
		return errors.New("dual-rate: sync interval must be positive")
	}
	if d.GradientCompressionDim <= 0 {
		return errors.New("dual-rate: gradient compression dim must be positive")
	}
	return nil
}

// A Config fully describes a model architecture.
// It is validated once at construction and never mutated.
type Config struct {
	HiddenSize   int
	VocabSize    int
	SeqLen       int
	NumHeads     int
	NumLayers    int
	FFMultiplier float64
	Dropout      float64

	NumLevels       int
	LevelTimescales []int

	Memory     MemoryConfig
	SelfModify SelfModifyConfig
	DualRate   DualRateConfig
}

// DefaultConfig returns the stock architecture.
func DefaultConfig() *Config {
	return &Config{
		HiddenSize:      384,
		VocabSize:       512,
		SeqLen:          256,
		NumHeads:        8,
		NumLayers:       4,
		FFMultiplier:    4.0,
		Dropout:         0.1,
		NumLevels:       3,
		LevelTimescales: []int{1, 4, 16},
		Memory: MemoryConfig{
			Enabled:        true,
			UltraShortSpan: 2,
			ShortSpan:      8,
			MidSpan:        32,
			LongSpan:       128,
			EpisodicSpan:   512,
		},
		SelfModify: SelfModifyConfig{
			Enabled:         true,
			MetaLR:          1e-5,
			UpdateFrequency: 8,
			WeightModDim:    128,
		},
		DualRate: DualRateConfig{
			Enabled:                true,
			FastLRScale:            1.0,
			SlowLRScale:            0.1,
			FastEMA:                0.9,
			SlowEMA:                0.99,
			SyncInterval:           64,
			GradientCompressionDim: 256,
		},
	}
}

// DeserializeConfig deserializes a Config.
func DeserializeConfig(d []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(d, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every architectural invariant, returning a
// descriptive error for the first violation.
func (c *Config) Validate() error {
	if c.HiddenSize <= 0 {
		return errors.New("config: hidden size must be positive")
	}
	if c.VocabSize <= 0 {
		return errors.New("config: vocab size must be positive")
	}
	if c.SeqLen <= 0 {
		return errors.New("config: sequence length must be positive")
	}
	if c.NumHeads <= 0 {
		return errors.New("config: head count must be positive")
	}
	if c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("config: hidden size %d is not divisible by %d heads",
			c.HiddenSize, c.NumHeads)
	}
	if c.NumLayers <= 0 {
		return errors.New("config: layer count must be positive")
	}
	if c.FFMultiplier <= 0 {
		return errors.New("config: feed-forward multiplier must be positive")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.New("config: dropout must be in [0,1)")
	}
	if c.NumLevels <= 0 {
		return errors.New("config: level count must be positive")
	}
	if len(c.LevelTimescales) != c.NumLevels {
		return fmt.Errorf("config: got %d timescales for %d levels",
			len(c.LevelTimescales), c.NumLevels)
	}
	for i, ts := range c.LevelTimescales {
		if ts <= 0 {
			return fmt.Errorf("config: timescale for level %d must be positive", i)
		}
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if err := c.SelfModify.Validate(); err != nil {
		return err
	}
	return c.DualRate.Validate()
}

// FeedforwardDim returns the width of encoder feed-forward
// layers, rounded from HiddenSize*FFMultiplier.
func (c *Config) FeedforwardDim() int {
	return int(math.Round(float64(c.HiddenSize) * c.FFMultiplier))
}

// SerializerType returns the unique ID used to serialize
// Configs with the serializer package.
func (c *Config) SerializerType() string {
	return "github.com/logos-42/HOPE.Config"
}

// Serialize encodes the config as JSON.
func (c *Config) Serialize() ([]byte, error) {
	return json.Marshal(c)
}
