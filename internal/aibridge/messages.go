package aibridge

import "errors"

// User-facing texts. Clients match on some of these, keep them stable.
const (
	ApologyText        = "Sorry, I encountered an error while processing your request. Please try again later."
	TimeoutText        = "I'm taking longer than expected to respond. Please try again in a moment."
	RateLimitedText    = "I'm receiving too many requests right now. Please wait a moment before sending another message."
	InputTooLongText   = "Your message is too long. Please keep it under 1000 characters."
	EmptyInputText     = "I didn't receive any message. Please try sending your message again."
	NotConfiguredText  = "I'm unable to respond right now. The AI service is not properly configured. Please contact the administrator."
	CreateUsageText    = "Please provide a description of the image you want me to create. For example: `/create a beautiful sunset over mountains`"
	ImageRateLimitText = "I'm receiving too many image generation requests right now. Please wait a moment before trying again."
	ImageEmptyText     = "Please provide a description of the image you want me to create."
	ImageTooLongText   = "Your image description is too long. Please keep it under 500 characters."
	ImageFailedText    = "Sorry, I encountered an error while generating the image. Please try again later."
)

// Limits.
const (
	MaxInputChars       = 1000
	MaxReplyChars       = 2000
	MaxImagePromptChars = 500

	// ImageDirective prefixes a responder reply that asks for an image instead of text.
	ImageDirective = "IMAGE_GENERATION:"
	createCommand  = "/create"
)

// Image generation failure categories.
var (
	ErrImageRateLimited   = errors.New("image generation rate limited")
	ErrEmptyImagePrompt   = errors.New("empty image prompt")
	ErrImagePromptTooLong = errors.New("image prompt too long")
	ErrImageGeneration    = errors.New("image generation failed")
)

// ImageErrorMessage maps an image generation failure to its user-facing text.
func ImageErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrImageRateLimited):
		return ImageRateLimitText
	case errors.Is(err, ErrEmptyImagePrompt):
		return ImageEmptyText
	case errors.Is(err, ErrImagePromptTooLong):
		return ImageTooLongText
	default:
		return ImageFailedText
	}
}

func imageSuccessText(prompt string) string {
	return `I've created an image for you: "` + prompt + `"`
}
