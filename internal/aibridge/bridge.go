// Package aibridge turns a message addressed to the assistant into exactly one
// reply: generated text, a generated image, or a fixed fallback text.
package aibridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"schat-service/internal/models"
	"schat-service/internal/observability"
)

// Responder produces the assistant's next text from a conversation.
// A reply starting with ImageDirective requests an image instead.
type Responder interface {
	Respond(ctx context.Context, turns []Turn) (string, error)
}

// ImageGenerator renders prompt and returns the image URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HistoryStore supplies persisted messages to rebuild a conversation after restart.
type HistoryStore interface {
	ListRecentMessages(ctx context.Context, chatID int, limit int) ([]models.Message, error)
}

// Outcome labels how a reply was produced.
type Outcome string

const (
	OutcomeText        Outcome = "text"
	OutcomeImage       Outcome = "image"
	OutcomeImageFailed Outcome = "image_failed"
	OutcomeError       Outcome = "error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRejected    Outcome = "rejected"

	outcomeLateDiscarded = "late_discarded"
)

// Request is one human message to the assistant.
type Request struct {
	UserID    int
	ChatID    int
	AIUserID  int
	MessageID int
	Content   string
}

// Reply is what the assistant says back. It is always present.
type Reply struct {
	Content     string
	MessageType models.MessageType
	FileURL     *string
	Outcome     Outcome
}

// Options tunes the bridge.
type Options struct {
	Timeout        time.Duration
	ImageTimeout   time.Duration
	HistoryWindow  int
	CallsPerMinute int
	SystemPrompt   string
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		ImageTimeout:   60 * time.Second,
		HistoryWindow:  20,
		CallsPerMinute: 10,
		SystemPrompt:   DefaultSystemPrompt,
	}
}

var errTimeout = errors.New("ai bridge timed out")

// Bridge guards calls to the responder and image generator.
type Bridge struct {
	responder Responder
	images    ImageGenerator
	store     HistoryStore
	opts      Options

	limiter *userLimiter
	history *history

	// tokens of calls whose result is still awaited
	pendingMu sync.Mutex
	pending   map[string]struct{}
	inflight  sync.WaitGroup
}

// New builds a Bridge. responder, images and store may be nil.
func New(responder Responder, images ImageGenerator, store HistoryStore, opts Options) *Bridge {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = def.ImageTimeout
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	if opts.CallsPerMinute <= 0 {
		opts.CallsPerMinute = def.CallsPerMinute
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = def.SystemPrompt
	}
	return &Bridge{
		responder: responder,
		images:    images,
		store:     store,
		opts:      opts,
		limiter:   newUserLimiter(opts.CallsPerMinute),
		history:   newHistory(opts.HistoryWindow, opts.SystemPrompt),
		pending:   make(map[string]struct{}),
	}
}

// Reply answers req. It never fails: errors, timeouts and rejections become
// fixed texts.
func (b *Bridge) Reply(ctx context.Context, req Request) Reply {
	start := time.Now()
	reply := b.reply(ctx, req)
	if reply.MessageType == "" {
		reply.MessageType = models.MessageTypeText
	}
	observability.ObserveAIBridge(string(reply.Outcome), time.Since(start))
	log.Debug().
		Int("chat_id", req.ChatID).
		Int("user_id", req.UserID).
		Str("outcome", string(reply.Outcome)).
		Dur("elapsed", time.Since(start)).
		Msg("ai reply produced")
	return reply
}

// Wait blocks until abandoned provider calls have returned.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

func (b *Bridge) reply(ctx context.Context, req Request) Reply {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return Reply{Content: EmptyInputText, Outcome: OutcomeRejected}
	}

	if prompt, ok := parseCreate(content); ok {
		if prompt == "" {
			return Reply{Content: CreateUsageText, Outcome: OutcomeRejected}
		}
		return b.image(ctx, req, prompt)
	}

	if b.responder == nil {
		return Reply{Content: NotConfiguredText, Outcome: OutcomeError}
	}
	if !b.limiter.Allow(req.UserID) {
		return Reply{Content: RateLimitedText, Outcome: OutcomeRateLimited}
	}
	if utf8.RuneCountInString(content) > MaxInputChars {
		return Reply{Content: InputTooLongText, Outcome: OutcomeRejected}
	}

	b.ensureHistory(ctx, req)
	b.history.append(req.ChatID, Turn{Role: RoleUser, Content: content})
	turns := b.history.snapshot(req.ChatID)

	text, err := guard(b, ctx, b.opts.Timeout, func(ctx context.Context) (string, error) {
		return b.responder.Respond(ctx, turns)
	})
	if errors.Is(err, errTimeout) {
		log.Warn().Int("chat_id", req.ChatID).Dur("timeout", b.opts.Timeout).Msg("ai response timed out")
		return Reply{Content: TimeoutText, Outcome: OutcomeTimeout}
	}
	if err != nil {
		log.Error().Err(err).Int("chat_id", req.ChatID).Int("user_id", req.UserID).Msg("ai responder failed")
		return Reply{Content: ApologyText, Outcome: OutcomeError}
	}

	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, ImageDirective); ok {
		return b.image(ctx, req, strings.TrimSpace(rest))
	}
	if text == "" {
		log.Error().Int("chat_id", req.ChatID).Msg("ai responder returned empty text")
		return Reply{Content: ApologyText, Outcome: OutcomeError}
	}

	text = truncateReply(text)
	b.history.append(req.ChatID, Turn{Role: RoleAssistant, Content: text})
	return Reply{Content: text, Outcome: OutcomeText}
}

func (b *Bridge) image(ctx context.Context, req Request, prompt string) Reply {
	url, err := b.generate(ctx, req.UserID, prompt)
	if err != nil {
		log.Warn().Err(err).Int("chat_id", req.ChatID).Int("user_id", req.UserID).Msg("image generation failed")
		return Reply{Content: ImageErrorMessage(err), Outcome: OutcomeImageFailed}
	}
	return Reply{
		Content:     imageSuccessText(prompt),
		MessageType: models.MessageTypeImage,
		FileURL:     &url,
		Outcome:     OutcomeImage,
	}
}

func (b *Bridge) generate(ctx context.Context, userID int, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyImagePrompt
	}
	if utf8.RuneCountInString(prompt) > MaxImagePromptChars {
		return "", ErrImagePromptTooLong
	}
	if b.images == nil {
		return "", fmt.Errorf("%w: no image generator configured", ErrImageGeneration)
	}
	if !b.limiter.Allow(userID) {
		return "", ErrImageRateLimited
	}

	url, err := guard(b, ctx, b.opts.ImageTimeout, func(ctx context.Context) (string, error) {
		return b.images.Generate(ctx, prompt)
	})
	switch {
	case err == nil && strings.TrimSpace(url) == "":
		return "", fmt.Errorf("%w: empty image url", ErrImageGeneration)
	case err == nil:
		return url, nil
	case errors.Is(err, ErrImageRateLimited), errors.Is(err, ErrEmptyImagePrompt),
		errors.Is(err, ErrImagePromptTooLong), errors.Is(err, ErrImageGeneration):
		return "", err
	default:
		return "", fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}
}

type guardResult[T any] struct {
	val T
	err error
}

// guard runs fn with a deadline. Whichever of completion and timeout claims the
// call's token first decides the result; the loser is discarded.
func guard[T any](b *Bridge, ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	token := b.await()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan guardResult[T], 1)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer cancel()
		val, err := fn(callCtx)
		if !b.claim(token) {
			observability.IncAIBridge(outcomeLateDiscarded)
			log.Info().Str("token", token).Err(err).Msg("discarding late ai result")
			return
		}
		done <- guardResult[T]{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		if b.claim(token) {
			var zero T
			return zero, errTimeout
		}
		// completion won the race and is about to be delivered
		r := <-done
		return r.val, r.err
	}
}

func (b *Bridge) await() string {
	token := uuid.NewString()
	b.pendingMu.Lock()
	b.pending[token] = struct{}{}
	b.pendingMu.Unlock()
	return token
}

func (b *Bridge) claim(token string) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if _, ok := b.pending[token]; !ok {
		return false
	}
	delete(b.pending, token)
	return true
}

func (b *Bridge) ensureHistory(ctx context.Context, req Request) {
	if b.store == nil || b.history.seeded(req.ChatID) {
		return
	}
	msgs, err := b.store.ListRecentMessages(ctx, req.ChatID, b.opts.HistoryWindow)
	if err != nil {
		log.Warn().Err(err).Int("chat_id", req.ChatID).Msg("ai history seed failed")
		return
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == req.MessageID || strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := RoleUser
		if m.SenderID == req.AIUserID {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	b.history.seed(req.ChatID, turns)
}

// parseCreate recognizes "/create <prompt>" case-insensitively.
func parseCreate(content string) (string, bool) {
	if len(content) < len(createCommand) || !strings.EqualFold(content[:len(createCommand)], createCommand) {
		return "", false
	}
	rest := content[len(createCommand):]
	if rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if r != ' ' && r != '\t' && r != '\n' {
			return "", false
		}
	}
	return strings.TrimSpace(rest), true
}

func truncateReply(text string) string {
	if utf8.RuneCountInString(text) <= MaxReplyChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxReplyChars]) + "..."
}
