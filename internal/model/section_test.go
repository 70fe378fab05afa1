package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  SectionKind
	}{
		{"1.1 Définition & périmètre", KindPlain},
		{"1.2 Sizing (TAM / SAM / SOM)", KindQuantitative},
		{"1.3 Segmentation", KindQuantitative},
		{"1.4 Tendances & drivers", KindQuantitative},
		{"1.5 Chaîne de valeur / Régulation", KindPlain},
		{"2.1 Principaux acteurs", KindQuantitative},
		{"2.2 Modèles économiques", KindPlain},
		{"2.3 Chiffres clés des acteurs", KindQuantitative},
		{"2.4 Facteurs clés d'achat", KindQuantitative},
		{"2.5 Positionnement relatif", KindQuantitative},
		{"3.1 Synthèse exécutive", KindSynthesis},
		{"3.2 Risques & zones d'incertitude", KindSynthesis},
		{"3.3 Leviers de développement", KindSynthesis},
		{"3.4 Prochaines étapes", KindSynthesis},
		{"", KindPlain},
		{"sizing", KindPlain},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySection(tt.label))
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog()
	require.Len(t, cat, 14)
	assert.Equal(t, "1.1 Définition & périmètre", cat[0].Label)
	assert.Equal(t, "3.4 Prochaines étapes", cat[13].Label)

	kinds := map[SectionKind]int{}
	for _, s := range cat {
		assert.Equal(t, ClassifySection(s.Label), s.Kind)
		kinds[s.Kind]++
	}
	assert.Equal(t, 3, kinds[KindPlain])
	assert.Equal(t, 7, kinds[KindQuantitative])
	assert.Equal(t, 4, kinds[KindSynthesis])
}

func TestDefaultCatalog_FreshCopy(t *testing.T) {
	t.Parallel()

	a := DefaultCatalog()
	a[0].Label = "mutated"
	assert.Equal(t, "1.1 Définition & périmètre", DefaultCatalog()[0].Label)
}

func TestCatalog_Find(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog()
	s, ok := cat.Find("2.1 Principaux acteurs")
	require.True(t, ok)
	assert.Equal(t, KindQuantitative, s.Kind)

	_, ok = cat.Find("9.9 Unknown")
	assert.False(t, ok)
}

func TestCatalogs_FallbackToDefault(t *testing.T) {
	t.Parallel()

	cats := NewCatalogs()
	assert.Len(t, cats.For("due_diligence"), 14)
	assert.Len(t, cats.For(DefaultMissionType), 14)
}

func TestParseCatalogs(t *testing.T) {
	t.Parallel()

	data := []byte(`
missions:
  quick_scan:
    - "1.1 Définition & périmètre"
    - "1.2 Sizing (TAM / SAM / SOM)"
    - "3.1 Synthèse exécutive"
`)
	cats, err := ParseCatalogs(data)
	require.NoError(t, err)

	quick := cats.For("quick_scan")
	require.Len(t, quick, 3)
	assert.Equal(t, KindPlain, quick[0].Kind)
	assert.Equal(t, KindQuantitative, quick[1].Kind)
	assert.Equal(t, KindSynthesis, quick[2].Kind)

	assert.Len(t, cats.For(DefaultMissionType), 14)
}

func TestParseCatalogs_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseCatalogs([]byte("missions: [unclosed"))
	assert.Error(t, err)

	_, err = ParseCatalogs([]byte("missions:\n  empty: []\n"))
	assert.Error(t, err)
}

func TestLoadCatalogs_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadCatalogs("/nonexistent/catalogs.yaml")
	assert.Error(t, err)
}
