package classify

import "github.com/blackmichael/fuwamoko-bot/internal/domain"

// Keywords are the text signals per category. Matching is case-insensitive;
// ASCII keywords match whole words only.
type Keywords struct {
	NSFW         []string `yaml:"nsfw"`
	Food         []string `yaml:"food"`
	Distress     []string `yaml:"distress"`
	Cosmetics    []string `yaml:"cosmetics"`
	CharacterArt []string `yaml:"character_art"`
	Fluffy       []string `yaml:"fluffy"`
}

// Rules configure the classifier. The numeric thresholds were tuned by eye
// and are expected to be adjusted per deployment.
type Rules struct {
	// TopColors is how many of the most frequent colours are tested.
	TopColors int `yaml:"top_colors"`

	// SoftMinMatches is how many of the top colours must be soft/pastel.
	SoftMinMatches int `yaml:"soft_min_matches"`

	// SkinThreshold is the skin-tone pixel ratio above which an image is held
	// back as a likely photo of people.
	SkinThreshold float64 `yaml:"skin_threshold"`

	// SkinOverrideMatches is the soft-colour count that overrides the skin
	// check (a busy pastel scene rather than skin).
	SkinOverrideMatches int `yaml:"skin_override_matches"`

	// RejectCategories veto a post whenever its text matches them.
	RejectCategories []domain.Category `yaml:"reject_categories"`

	Keywords Keywords `yaml:"keywords"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() Rules {
	return Rules{
		TopColors:           5,
		SoftMinMatches:      2,
		SkinThreshold:       0.3,
		SkinOverrideMatches: 4,
		RejectCategories: []domain.Category{
			domain.CategoryNSFWRisk,
			domain.CategoryFood,
			domain.CategoryCosmetics,
		},
		Keywords: Keywords{
			NSFW: []string{
				"えっち", "エロ", "スケベ", "下着", "水着", "セクシー", "裸",
				"ちゅぱ", "ペロペロ", "ぐちゅ", "ぬぷ", "ビクビク",
				"nsfw", "r18", "r-18", "lewd", "sexy", "nude",
			},
			Food: []string{
				"ごはん", "ご飯", "ランチ", "ディナー", "朝ごはん", "ラーメン", "寿司",
				"ケーキ", "パンケーキ", "スイーツ", "パフェ", "料理", "レシピ", "食べた", "おいしい", "美味しい",
				"food", "lunch", "dinner", "breakfast", "cake", "ramen", "sushi", "dessert", "recipe", "yummy",
			},
			Distress: []string{
				"疲れた", "つかれた", "しんどい", "つらい", "辛い", "泣きたい", "寝れない", "眠れない",
				"さみしい", "寂しい", "落ち込", "しにたい",
				"tired", "exhausted", "sad", "lonely", "depressed",
			},
			Cosmetics: []string{
				"コスメ", "メイク", "化粧", "リップ", "ネイル", "アイシャドウ", "ファンデ", "スキンケア",
				"makeup", "cosmetics", "lipstick", "nails", "skincare",
			},
			CharacterArt: []string{
				"イラスト", "らくがき", "落書き", "ファンアート", "うちの子", "キャラ",
				"illustration", "fanart", "drawing", "sketch",
			},
			Fluffy: []string{
				"ふわふわ", "もこもこ", "ふわもこ", "もふもふ", "ふわっ", "もふ",
				"うさぎ", "ねこ", "猫", "いぬ", "犬", "ハムスター", "ひつじ", "羊", "ぬいぐるみ", "しろくま",
				"fluffy", "fuzzy", "bunny", "kitten", "puppy", "plush", "plushie", "cat", "dog", "hamster",
			},
		},
	}
}
