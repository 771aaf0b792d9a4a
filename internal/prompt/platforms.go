package prompt

// Platform codes carried over from the content backend
const (
	PlatformFacebook  = "FCB"
	PlatformTiktok    = "TTK"
	PlatformInstagram = "INT"
	PlatformLinkedin  = "LKN"
	PlatformBlog      = "BLG"
)

// PlatformNames maps platform codes to display names
var PlatformNames = map[string]string{
	PlatformFacebook:  "Facebook",
	PlatformTiktok:    "Tiktok",
	PlatformInstagram: "Instagram",
	PlatformLinkedin:  "Linkedin",
	PlatformBlog:      "Blog",
}

// platformInstructions holds the per-platform style guidance appended to the prompt
var platformInstructions = map[string]string{
	PlatformFacebook:  "Write a conversational Facebook post of 2-4 short paragraphs with a clear call to action.",
	PlatformTiktok:    "Write a punchy TikTok caption under 150 words with a strong hook in the first line.",
	PlatformInstagram: "Write an engaging Instagram caption of 1-2 paragraphs, ending with 3-5 relevant hashtags.",
	PlatformLinkedin:  "Write a professional LinkedIn post of 3-5 paragraphs with an insight-driven opening.",
	PlatformBlog:      "Write a well-structured blog post of 300 to 500 words with organized paragraphs.",
}

// ValidPlatform reports whether code is a known platform
func ValidPlatform(code string) bool {
	_, ok := PlatformNames[code]
	return ok
}
