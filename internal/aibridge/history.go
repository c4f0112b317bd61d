package aibridge

import "sync"

// Role is a conversation participant kind.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation sent to the responder.
type Turn struct {
	Role    Role
	Content string
}

// DefaultSystemPrompt frames the assistant persona.
const DefaultSystemPrompt = "You are Super AI, a helpful assistant in the Schat messaging app. " +
	"You're designed to be friendly, helpful, and knowledgeable. " +
	"Respond concisely and conversationally, like in a chat app. Avoid overly long responses. " +
	"If you don't know something, be honest about it. " +
	"You can help with information, answer questions, provide suggestions, and engage in casual conversation."

// history keeps a bounded conversation per AI chat. The system prompt always
// leads and counts toward window.
type history struct {
	mu     sync.Mutex
	window int
	system string
	turns  map[int][]Turn
}

func newHistory(window int, system string) *history {
	if window < 2 {
		window = 2
	}
	return &history{window: window, system: system, turns: make(map[int][]Turn)}
}

// seeded reports whether chatID already has an in-memory conversation.
func (h *history) seeded(chatID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.turns[chatID]
	return ok
}

// seed installs turns for chatID unless a conversation already exists.
func (h *history) seed(chatID int, turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.turns[chatID]; ok {
		return
	}
	h.turns[chatID] = h.trim(append([]Turn(nil), turns...))
}

func (h *history) append(chatID int, turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[chatID] = h.trim(append(h.turns[chatID], turns...))
}

// snapshot returns the system prompt followed by the retained turns.
func (h *history) snapshot(chatID int) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.turns[chatID]
	out := make([]Turn, 0, len(kept)+1)
	out = append(out, Turn{Role: RoleSystem, Content: h.system})
	return append(out, kept...)
}

func (h *history) trim(turns []Turn) []Turn {
	max := h.window - 1
	if len(turns) <= max {
		return turns
	}
	return append([]Turn(nil), turns[len(turns)-max:]...)
}
