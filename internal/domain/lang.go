package domain

import "strings"

const (
	LangJapanese = "ja"
	LangEnglish  = "en"
)

var (
	japaneseBioHints = []string{"日本語", "日本", "にほん"}
	englishBioHints  = []string{"english", "us", "uk"}
)

// DetectLanguage guesses the reply language from an author's profile. Japanese
// is the default.
func DetectLanguage(p *Profile) string {
	if p == nil {
		return LangJapanese
	}
	bio := strings.ToLower(p.DisplayName + " " + p.Description)
	for _, kw := range japaneseBioHints {
		if strings.Contains(bio, kw) {
			return LangJapanese
		}
	}
	for _, kw := range englishBioHints {
		if containsWord(bio, kw) {
			return LangEnglish
		}
	}
	return LangJapanese
}

// containsWord matches kw as a whole ASCII word so "us" does not hit "music".
func containsWord(s, kw string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if f == kw {
			return true
		}
	}
	return false
}
