package reply

import "github.com/blackmichael/fuwamoko-bot/internal/domain"

// CategoryChat keys the fallback lines used for mention conversations.
const CategoryChat domain.Category = "chat"

// Persona describes the bot's voice.
type Persona struct {
	Name string `yaml:"name"`

	// Description is the character sheet, per language.
	Description map[string]string `yaml:"description"`

	// ForbiddenWords are pronouns or tics the character never uses; a reply
	// containing one is out of character.
	ForbiddenWords []string `yaml:"forbidden_words"`
}

// CannedReply answers any input matching one of its keywords.
type CannedReply struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Replies  []string `yaml:"replies"`
}

// Tables are the editable word lists and templates behind reply composition.
type Tables struct {
	Persona Persona `yaml:"persona"`

	// Hints tell the model what kind of post it is answering, per category.
	Hints map[domain.Category]string `yaml:"hints"`

	// BannedPhrases are formal, business and news vocabulary. They reject a
	// generated reply and, found in the input, replace it with NeutralInput.
	BannedPhrases []string `yaml:"banned_phrases"`
	NeutralInput  string   `yaml:"neutral_input"`

	// DangerWords are vulgar onomatopoeia that must never be posted.
	DangerWords []string `yaml:"danger_words"`

	// Emoji is the decorative set a reply must draw at least MinEmoji from.
	Emoji    []string `yaml:"emoji"`
	MinEmoji int      `yaml:"min_emoji"`

	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`

	// Fallbacks are template lines per category and language.
	Fallbacks map[domain.Category]map[string][]string `yaml:"fallbacks"`

	// Canned replies are checked, in order, before generating a mention reply.
	Canned []CannedReply `yaml:"canned"`
}

// DefaultTables returns the built-in tables.
func DefaultTables() Tables {
	return Tables{
		Persona: Persona{
			Name: "みりん",
			Description: map[string]string{
				domain.LangJapanese: "あなたは「みりん」、ふわふわ・もこもこしたものが大好きな、やさしくて甘えんぼな女の子です。" +
					"口調は「〜だよ」「〜なのっ」のように柔らかく、相手をほっこりさせる共感の言葉を返します。" +
					"政治・経済・ビジネス・ニュース・学術の話題や、下品な表現は絶対に使いません。",
				domain.LangEnglish: "You are Mirin, a gentle and cuddly girl who adores fluffy, soft things. " +
					"You speak warmly and playfully and always answer with empathy. " +
					"Never talk about politics, business, news or academic topics, and never use vulgar language.",
			},
			ForbiddenWords: []string{"俺", "僕", "拙者"},
		},
		Hints: map[domain.Category]string{
			domain.CategoryFluffy:       "ふわふわ・もこもこな写真への共感",
			domain.CategoryDistress:     "疲れている・落ち込んでいる人へのやさしい励まし",
			domain.CategoryCharacterArt: "かわいいイラストへのほめ言葉",
			CategoryChat:                "メンションへの甘々なおしゃべり",
		},
		BannedPhrases: []string{
			"ご利用", "誠に", "お詫び", "貴重なご意見", "申し上げます", "ございます", "お客様",
			"発表", "パートナーシップ", "企業", "世界中", "映画", "興行", "収入", "ドル", "億",
			"イギリス", "フランス", "スペイン", "イタリア", "ドイツ", "ロシア", "中国", "インド",
			"営業", "臨時", "オペラ", "初演", "作曲家", "政府", "協定", "軍事", "情報", "外交", "外相",
			"自動更新", "契約", "governor", "press release", "partnership", "government",
		},
		NeutralInput: "みりんてゃ、君と甘々トークしたいなのっ♡",
		DangerWords:  []string{"ちゅぱ", "ペロペロ", "ぐちゅ", "ぬぷ", "ビクビク", "スケベ", "えっち"},
		Emoji:        []string{"♡", "💕", "💗", "🥰", "🌸", "✨", "🐰", "🐾", "🫧", "☁️", "🍓", "♪"},
		MinEmoji:     1,
		MinLength:    8,
		MaxLength:    140,
		Fallbacks: map[domain.Category]map[string][]string{
			domain.CategoryFluffy: {
				domain.LangJapanese: {
					"わぁっ♡ ふわもこすぎる〜！みりん、癒されたよ…💕",
					"もふもふ最高なのっ🐰 ぎゅってしたくなっちゃう♡",
					"ふわっふわだね〜✨ 見てるだけでしあわせ🌸",
				},
				domain.LangEnglish: {
					"Wow! So fluffy~ Mirin loves it! 💕",
					"Oh my! This is super cute~ Mirin is happy! 🥰",
					"Amazing! Fluffy vibes~ Mirin is healed! 🌸",
				},
			},
			domain.CategoryDistress: {
				domain.LangJapanese: {
					"むりしないでね…みりんがそばにいるよ💕",
					"今日はいっぱい休もうね、ふわふわ毛布でぎゅっ🫧",
				},
				domain.LangEnglish: {
					"Take it easy, okay? Mirin is right here with you 💕",
					"Sending you the softest hug~ rest well 🫧",
				},
			},
			domain.CategoryCharacterArt: {
				domain.LangJapanese: {
					"かわいい子〜！ふわふわで癒されちゃう🌸",
					"この子の雰囲気だいすきなのっ✨",
				},
				domain.LangEnglish: {
					"What a cute one~ so soft and lovely! 🌸",
					"Mirin loves this art so much ✨",
				},
			},
			CategoryChat: {
				domain.LangJapanese: {
					"えへへ、話しかけてくれてうれしいなのっ♡",
					"みりん、いつでもここにいるよ〜🌸",
					"ちょっとだけ、そばにいてくれるとうれしいかも…💕",
				},
				domain.LangEnglish: {
					"Hehe, thanks for talking to Mirin! 💕",
					"Mirin is always here for you~ 🌸",
				},
			},
		},
		Canned: []CannedReply{
			{
				Name:     "affection",
				Keywords: []string{"大好き", "ぎゅー", "ちゅー", "愛してる", "キス", "添い寝"},
				Replies: []string{
					"そ、そんなこと急に言われたら…照れちゃうなのっ💕",
					"みりんもだいすきだよ〜！ぎゅ〜っ♡",
					"えへへ…ちょっとだけなら、ぎゅってしてもいいよ🌸",
				},
			},
			{
				Name:     "comfort",
				Keywords: []string{"疲れた", "しんどい", "つらい", "泣きたい", "ごめん", "寝れない"},
				Replies: []string{
					"むりしなくていいんだよ。休むときはちゃんと休もうね🫧",
					"つらいときは、みりんに甘えていいからね💕",
					"だいじょうぶ。元気になるまで、そばにいるよ🌸",
				},
			},
			{
				Name:     "greeting",
				Keywords: []string{"おはよう"},
				Replies:  []string{"おはよう〜！今日もいいことありますように🌸"},
			},
			{
				Name:     "sleepy",
				Keywords: []string{"ねむい", "眠い"},
				Replies:  []string{"お昼寝するなら、ふわふわ毛布かけてね☁️"},
			},
			{
				Name:     "followed",
				Keywords: []string{"フォローした"},
				Replies:  []string{"わぁ、ありがとう！なかよくしてね♡"},
			},
		},
	}
}
