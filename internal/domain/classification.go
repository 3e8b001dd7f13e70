package domain

import "image/color"

// Category is the content class assigned to a post.
type Category string

const (
	CategoryFluffy       Category = "fluffy"
	CategoryFood         Category = "food"
	CategoryDistress     Category = "distress"
	CategoryCosmetics    Category = "cosmetics"
	CategoryCharacterArt Category = "character-art"
	CategoryNSFWRisk     Category = "nsfw-risk"
	CategoryReject       Category = "reject"
)

// ColorCount is one entry of an image's colour histogram.
type ColorCount struct {
	Color color.RGBA
	Count int
}

// ImageSummary is the decoded-image evidence the classifier works from. It is
// computed once per image so classification stays a pure function.
type ImageSummary struct {
	// TopColors are the most frequent quantised colours, most frequent first.
	TopColors []ColorCount

	// SkinRatio is the fraction of sampled pixels inside the skin-tone range.
	SkinRatio float64
}

// Classification is the classifier's verdict and the evidence behind it.
// It is derived per post and never persisted.
type Classification struct {
	Category    Category
	Pass        bool
	SoftMatches int
	SkinRatio   float64

	// Keyword is the text keyword that decided the category, if any.
	Keyword string
}
