package services

import "strings"

var (
	pulsaKeywords  = []string{"PULSA", "PAKET DATA"}
	plnKeywords    = []string{"PLN", "TOKEN LISTRIK", "TOKEN"}
	gameKeywords   = []string{"GAME", "TOPUP", "VOUCHER GAME"}
	emoneyKeywords = []string{"E-MONEY", "E-WALLET", "SALDO DIGITAL"}
	gameBrands     = []string{"FREE FIRE", "MOBILE LEGENDS", "GENSHIN IMPACT", "HONKAI STAR RAIL"}

	// fallbackKeys is matched in order against the raw category.
	fallbackKeys = []string{
		"Pulsa", "Token Listrik", "Game Topup", "Digital Service",
		"FREE FIRE", "MOBILE LEGENDS", "GENSHIN IMPACT", "HONKAI STAR RAIL",
		"PLN", "E-Money", "Default",
	}
)

const CategoryDefault = "Default"

// Classify maps raw provider taxonomy to a display category. The first
// matching rule wins.
func Classify(category, brand string) string {
	cat := strings.ToUpper(category)
	br := strings.ToUpper(brand)

	switch {
	case containsAny(cat, pulsaKeywords) || containsAny(br, pulsaKeywords):
		return "Pulsa"
	case strings.Contains(br, "PLN") || containsAny(cat, plnKeywords):
		return "Token Listrik"
	}
	for _, game := range gameBrands {
		if strings.Contains(br, game) {
			return game
		}
	}
	switch {
	case containsAny(cat, gameKeywords) || containsAny(br, gameKeywords):
		return "Game Topup"
	case containsAny(cat, emoneyKeywords) || containsAny(br, emoneyKeywords):
		return "E-Money"
	}

	key := category
	if key == "" {
		key = "Digital Service"
	}
	upperKey := strings.ToUpper(key)
	for _, k := range fallbackKeys {
		if strings.Contains(upperKey, strings.ToUpper(k)) {
			return k
		}
	}
	return CategoryDefault
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
