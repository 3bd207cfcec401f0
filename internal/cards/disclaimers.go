// ABOUTME: Localized one-time disclaimer shown before a user's first answer.
// ABOUTME: Falls back to English for locales without a translation.

package cards

type disclaimer struct {
	title string
	body  string
}

var disclaimers = map[string]disclaimer{
	"en-US": {
		title: "⚠️ AI-Generated Content",
		body:  "Responses in this conversation are generated by an AI assistant and may contain mistakes. Please verify important information before acting on it.",
	},
	"fr-FR": {
		title: "⚠️ Contenu généré par IA",
		body:  "Les réponses de cette conversation sont générées par un assistant IA et peuvent contenir des erreurs. Veuillez vérifier les informations importantes avant d'agir.",
	},
}

const defaultLocale = "en-US"

// Disclaimer builds the one-time disclaimer card for the given locale.
func Disclaimer(locale string) *Card {
	d, ok := disclaimers[locale]
	if !ok {
		d = disclaimers[defaultLocale]
	}
	return &Card{
		Title: d.title,
		Body:  []Block{subtleBlock(d.body)},
	}
}
