package waterfall

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Default cascade constants.
const (
	DefaultInternalAcceptance   = 0.80
	DefaultInternalScale        = 0.95
	DefaultInternalCap          = 0.9
	DefaultWebConfidence        = 0.7
	DefaultEstimationConfidence = 0.5
	DefaultSynthesisConfidence  = 0.8
	DefaultExpertFlag           = 0.7
	DefaultMinUsefulLength      = 100
	DefaultMinInternalLength    = 150
	DefaultMinKeywordOverlap    = 2
	DefaultKeywordMinRunes      = 4
	DefaultSynthesisExcerpt     = 500
	DefaultEstimationExcerpt    = 1000
	DefaultMinPartialLength     = 50
)

// Thresholds holds every constant the cascade gates on. Values are fixed for
// the lifetime of a Resolver.
type Thresholds struct {
	// InternalAcceptance is the similarity an internal hit must exceed.
	InternalAcceptance float64 `yaml:"internal_acceptance"`
	// InternalScale and InternalCap map similarity to confidence:
	// min(cap, similarity*scale).
	InternalScale        float64 `yaml:"internal_scale"`
	InternalCap          float64 `yaml:"internal_cap"`
	WebConfidence        float64 `yaml:"web_confidence"`
	EstimationConfidence float64 `yaml:"estimation_confidence"`
	SynthesisConfidence  float64 `yaml:"synthesis_confidence"`
	// ExpertFlag is the confidence below which a section gets an expert
	// recommendation.
	ExpertFlag float64 `yaml:"expert_flag"`
	// MinUsefulLength is the shortest web answer considered useful.
	MinUsefulLength int `yaml:"min_useful_length"`
	// MinInternalLength is exclusive: internal content must be longer.
	MinInternalLength int `yaml:"min_internal_length"`
	MinKeywordOverlap int `yaml:"min_keyword_overlap"`
	// KeywordMinRunes is the shortest label word counted for relevance.
	KeywordMinRunes   int `yaml:"keyword_min_runes"`
	SynthesisExcerpt  int `yaml:"synthesis_excerpt"`
	EstimationExcerpt int `yaml:"estimation_excerpt"`
	// MinPartialLength is exclusive: partial results must be longer to be
	// handed to estimation.
	MinPartialLength int `yaml:"min_partial_length"`
}

// DefaultThresholds returns the reference cascade constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		InternalAcceptance:   DefaultInternalAcceptance,
		InternalScale:        DefaultInternalScale,
		InternalCap:          DefaultInternalCap,
		WebConfidence:        DefaultWebConfidence,
		EstimationConfidence: DefaultEstimationConfidence,
		SynthesisConfidence:  DefaultSynthesisConfidence,
		ExpertFlag:           DefaultExpertFlag,
		MinUsefulLength:      DefaultMinUsefulLength,
		MinInternalLength:    DefaultMinInternalLength,
		MinKeywordOverlap:    DefaultMinKeywordOverlap,
		KeywordMinRunes:      DefaultKeywordMinRunes,
		SynthesisExcerpt:     DefaultSynthesisExcerpt,
		EstimationExcerpt:    DefaultEstimationExcerpt,
		MinPartialLength:     DefaultMinPartialLength,
	}
}

// WithDefaults fills zero fields from DefaultThresholds. It is for
// thresholds built in code; LoadConfig keeps explicit zeros from YAML.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	setF := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setI := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setF(&t.InternalAcceptance, d.InternalAcceptance)
	setF(&t.InternalScale, d.InternalScale)
	setF(&t.InternalCap, d.InternalCap)
	setF(&t.WebConfidence, d.WebConfidence)
	setF(&t.EstimationConfidence, d.EstimationConfidence)
	setF(&t.SynthesisConfidence, d.SynthesisConfidence)
	setF(&t.ExpertFlag, d.ExpertFlag)
	setI(&t.MinUsefulLength, d.MinUsefulLength)
	setI(&t.MinInternalLength, d.MinInternalLength)
	setI(&t.MinKeywordOverlap, d.MinKeywordOverlap)
	setI(&t.KeywordMinRunes, d.KeywordMinRunes)
	setI(&t.SynthesisExcerpt, d.SynthesisExcerpt)
	setI(&t.EstimationExcerpt, d.EstimationExcerpt)
	setI(&t.MinPartialLength, d.MinPartialLength)
	return t
}

// Validate checks that confidences stay in [0,1] and lengths are positive.
func (t Thresholds) Validate() error {
	scores := map[string]float64{
		"internal_acceptance":   t.InternalAcceptance,
		"internal_cap":          t.InternalCap,
		"web_confidence":        t.WebConfidence,
		"estimation_confidence": t.EstimationConfidence,
		"synthesis_confidence":  t.SynthesisConfidence,
		"expert_flag":           t.ExpertFlag,
	}
	for name, v := range scores {
		if v < 0 || v > 1 {
			return eris.Errorf("waterfall: %s must be in [0,1], got %v", name, v)
		}
	}
	if t.InternalScale <= 0 {
		return eris.Errorf("waterfall: internal_scale must be positive, got %v", t.InternalScale)
	}
	lengths := map[string]int{
		"min_useful_length":   t.MinUsefulLength,
		"min_internal_length": t.MinInternalLength,
		"min_keyword_overlap": t.MinKeywordOverlap,
		"keyword_min_runes":   t.KeywordMinRunes,
		"synthesis_excerpt":   t.SynthesisExcerpt,
		"estimation_excerpt":  t.EstimationExcerpt,
		"min_partial_length":  t.MinPartialLength,
	}
	for name, v := range lengths {
		if v < 0 {
			return eris.Errorf("waterfall: %s must not be negative, got %d", name, v)
		}
	}
	return nil
}

// Config is the cascade configuration file layout.
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`
}

// LoadConfig reads cascade thresholds from a YAML file. Missing keys take
// their defaults; a key set to 0 stays 0.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	// The YAML has a top-level "cascade" key. Decoding over the defaults
	// keeps keys absent from the file and honours explicit zeros.
	var wrapper struct {
		Cascade Config `yaml:"cascade"`
	}
	wrapper.Cascade.Thresholds = DefaultThresholds()
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Cascade
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
