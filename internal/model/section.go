package model

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SectionKind drives the cascade acceptance rules for a section.
type SectionKind string

const (
	// KindPlain sections accept any sufficiently relevant content.
	KindPlain SectionKind = "plain"
	// KindQuantitative sections only accept content carrying numeric data.
	KindQuantitative SectionKind = "quantitative"
	// KindSynthesis sections are compiled from previously completed sections.
	KindSynthesis SectionKind = "synthesis"
)

// quantitativeKeywords mark sections that must be backed by figures.
var quantitativeKeywords = []string{
	"1.2 Sizing",
	"1.3 Segmentation",
	"1.4 Tendances",
	"2.1 Principaux acteurs",
	"2.3 Chiffres clés",
	"2.4 Facteurs",
	"2.5 Positionnement",
}

// synthesisKeywords mark closing sections built from earlier ones.
var synthesisKeywords = []string{
	"3.1 Synthèse",
	"3.2 Risques",
	"3.3 Leviers",
	"3.4 Prochaines",
}

// ClassifySection derives the kind of a section from its label. Synthesis
// keywords win over quantitative ones.
func ClassifySection(label string) SectionKind {
	for _, kw := range synthesisKeywords {
		if strings.Contains(label, kw) {
			return KindSynthesis
		}
	}
	for _, kw := range quantitativeKeywords {
		if strings.Contains(label, kw) {
			return KindQuantitative
		}
	}
	return KindPlain
}

// SectionSpec is one entry of a report catalog. Kind is fixed when the
// catalog is built and never re-derived at call sites.
type SectionSpec struct {
	Label string      `json:"label" yaml:"label"`
	Kind  SectionKind `json:"kind" yaml:"kind"`
}

// ID returns the identifier used for the resolved section.
func (s SectionSpec) ID() string { return s.Label }

// NewSection builds a SectionSpec with its kind classified from the label.
func NewSection(label string) SectionSpec {
	return SectionSpec{Label: label, Kind: ClassifySection(label)}
}

// Catalog is an ordered list of sections for one mission type.
type Catalog []SectionSpec

// NewCatalog classifies every label once and returns the catalog.
func NewCatalog(labels ...string) Catalog {
	c := make(Catalog, 0, len(labels))
	for _, l := range labels {
		c = append(c, NewSection(l))
	}
	return c
}

// Find returns the section whose ID matches id.
func (c Catalog) Find(id string) (SectionSpec, bool) {
	for _, s := range c {
		if s.ID() == id {
			return s, true
		}
	}
	return SectionSpec{}, false
}

// DefaultCatalog returns the market-study catalog. A fresh slice is returned
// on every call so callers may not mutate a shared value.
func DefaultCatalog() Catalog {
	return NewCatalog(
		"1.1 Définition & périmètre",
		"1.2 Sizing (TAM / SAM / SOM)",
		"1.3 Segmentation",
		"1.4 Tendances & drivers",
		"1.5 Chaîne de valeur / Régulation",
		"2.1 Principaux acteurs",
		"2.2 Modèles économiques",
		"2.3 Chiffres clés des acteurs",
		"2.4 Facteurs clés d'achat",
		"2.5 Positionnement relatif",
		"3.1 Synthèse exécutive",
		"3.2 Risques & zones d'incertitude",
		"3.3 Leviers de développement",
		"3.4 Prochaines étapes",
	)
}

// Catalogs maps mission types to their section catalogs.
type Catalogs struct {
	byType map[string]Catalog
}

// NewCatalogs returns a registry holding only the default market-study
// catalog.
func NewCatalogs() *Catalogs {
	return &Catalogs{byType: map[string]Catalog{DefaultMissionType: DefaultCatalog()}}
}

// Register adds or replaces the catalog for a mission type.
func (c *Catalogs) Register(missionType string, catalog Catalog) {
	c.byType[missionType] = catalog
}

// For returns a copy of the catalog for missionType, falling back to the
// default catalog for unknown types.
func (c *Catalogs) For(missionType string) Catalog {
	cat, ok := c.byType[missionType]
	if !ok {
		cat = c.byType[DefaultMissionType]
	}
	out := make(Catalog, len(cat))
	copy(out, cat)
	return out
}

// catalogFile is the YAML layout of a mission catalogs file.
type catalogFile struct {
	Missions map[string][]string `yaml:"missions"`
}

// LoadCatalogs reads additional mission catalogs from a YAML file. Labels are
// classified as they are loaded. The default catalog stays registered unless
// the file overrides market_study.
func LoadCatalogs(path string) (*Catalogs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read catalogs %s", path)
	}
	return ParseCatalogs(data)
}

// ParseCatalogs decodes a catalogs YAML document.
func ParseCatalogs(data []byte) (*Catalogs, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "model: parse catalogs")
	}
	cats := NewCatalogs()
	for missionType, labels := range f.Missions {
		if len(labels) == 0 {
			return nil, eris.Errorf("model: catalog %q has no sections", missionType)
		}
		cats.Register(missionType, NewCatalog(labels...))
	}
	return cats, nil
}
