package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasNumericData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"plain prose", "Le marché est dominé par quelques acteurs historiques.", false},
		{"milliards euros", "Le marché pèse 7 milliards d'euros en 2024.", true},
		{"comma decimal Md euros", "Un TAM estimé à 2,3 Md euros", true},
		{"millions euros", "Un chiffre d'affaires de 450 millions euros", true},
		{"percentage", "croissance de 15%", true},
		{"percentage spaced", "croissance de 4.5 %", true},
		{"euro sign", "panier moyen 35 €", true},
		{"Md euro sign", "environ ~2.3 Md€", true},
		{"M euro sign", "CA 120M€", true},
		{"leading euro sign Md", "le marché atteint €2.3 Md en 2023", true},
		{"leading euro sign M", "un CA de € 450 M cette année", true},
		{"leading euro sign milliards", "€1,8 milliards", true},
		{"leading euro sign without unit", "prix public €12 TTC", false},
		{"TAM label", "TAM (France): ~7", true},
		{"som lowercase", "som estimé : 3", true},
		{"market share", "Part de marché Royal Canin: 22", true},
		{"market share no de", "part marche leader: 30", true},
		{"year only", "Depuis 2019 le secteur évolue.", false},
		{"malformed", "%%% €€ ::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasNumericData(tt.text))
		})
	}
}

func TestIsUsefulContent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Le marché français de l'alimentation animale progresse. ", 3)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"short", "Trop court.", false},
		{"long prose", long, true},
		{"aucun résultat", long + "Aucun résultat trouvé via recherche web.", false},
		{"aucune donnée", "Aucune donnée disponible. " + long, false},
		{"pas de données", long + " pas de données publiques", false},
		{"source n/a", long + " Source: n/a", false},
		{"erreur uppercase", "ERREUR lors de la recherche. " + long, false},
		{"malheureusement", "Malheureusement, nous n'avons trouvé aucun élément. " + long, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUsefulContent(tt.text))
		})
	}
}

func TestIsUsefulContent_CountsCharacters(t *testing.T) {
	t.Parallel()

	// 99 two-byte runes are 198 bytes but still below the minimum.
	assert.False(t, IsUsefulContent(strings.Repeat("é", 99)))
	assert.True(t, IsUsefulContent(strings.Repeat("é", 100)))
}

func TestIsUsefulContentMin(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUsefulContentMin("assez long", 5))
	assert.False(t, IsUsefulContentMin("assez long", 50))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "éé", Truncate("ééé", 2))
}

func TestFold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "synthèse exécutive", Fold("SYNTHÈSE Exécutive"))
}
