package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"schat-service/internal/models"
	"schat-service/internal/repositories"
)

// transition is one per-message status change asked of the store.
type transition struct {
	id       int
	from, to models.MessageStatus
}

// memStore is an in-memory UserStore, ChatStore and MessageStore that keeps
// every status each message has been in and every per-message status
// change it was asked for, applied or not.
type memStore struct {
	mu        sync.Mutex
	users     map[int]models.User
	chats     map[int]models.Chat
	messages  map[int]*models.Message
	history   map[int][]models.MessageStatus
	requested []transition
	nextChat  int
	nextMsg   int

	failCreate error
	// afterUpdate runs, unlocked, after UpdateMessageStatus applied a change
	afterUpdate func(id int, to models.MessageStatus)
}

func newMemStore(users ...models.User) *memStore {
	s := &memStore{
		users:    make(map[int]models.User),
		chats:    make(map[int]models.Chat),
		messages: make(map[int]*models.Message),
		history:  make(map[int][]models.MessageStatus),
		nextChat: 100,
		nextMsg:  1000,
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) GetUser(_ context.Context, userID int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *memStore) addChat(a, b int) models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addChatLocked(a, b)
}

func (s *memStore) addChatLocked(a, b int) models.Chat {
	if a > b {
		a, b = b, a
	}
	s.nextChat++
	c := models.Chat{ID: s.nextChat, User1ID: a, User2ID: b, CreatedAt: time.Now()}
	s.chats[c.ID] = c
	return c
}

func (s *memStore) GetChat(_ context.Context, chatID int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return c, nil
}

func (s *memStore) GetOrCreateChat(_ context.Context, userID, otherID int) (models.Chat, error) {
	if userID == otherID {
		return models.Chat{}, repositories.ErrSelfChat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.HasParticipant(userID) && c.HasParticipant(otherID) {
			return c, nil
		}
	}
	return s.addChatLocked(userID, otherID), nil
}

func (s *memStore) CreateMessage(_ context.Context, in models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return models.Message{}, s.failCreate
	}
	s.nextMsg++
	m := models.Message{
		ID:          s.nextMsg,
		ChatID:      in.ChatID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		MessageType: in.MessageType,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		Status:      models.StatusSent,
		CreatedAt:   time.Now(),
	}
	s.messages[m.ID] = &m
	s.history[m.ID] = []models.MessageStatus{models.StatusSent}
	return m, nil
}

func (s *memStore) GetMessage(_ context.Context, id int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return *m, nil
}

func (s *memStore) UpdateMessageStatus(_ context.Context, id int, status models.MessageStatus) (bool, error) {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	s.requested = append(s.requested, transition{id: id, from: m.Status, to: status})
	if !models.CanTransition(m.Status, status) {
		s.mu.Unlock()
		return false, nil
	}
	m.Status = status
	s.history[id] = append(s.history[id], status)
	hook := s.afterUpdate
	s.mu.Unlock()

	if hook != nil {
		hook(id, status)
	}
	return true, nil
}

// readConcurrently moves id to read the way a concurrent MarkRead would.
func (s *memStore) readConcurrently(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.messages[id]
	if models.CanTransition(m.Status, models.StatusRead) {
		m.Status = models.StatusRead
		s.history[id] = append(s.history[id], models.StatusRead)
	}
}

func (s *memStore) requestedTransitions() []transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transition(nil), s.requested...)
}

func (s *memStore) MarkChatRead(_ context.Context, chatID, readerID int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ChatID != chatID || m.SenderID == readerID || !models.CanTransition(m.Status, models.StatusRead) {
			continue
		}
		m.Status = models.StatusRead
		s.history[m.ID] = append(s.history[m.ID], models.StatusRead)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) chatMessages(chatID int) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) statusHistory() map[int][]models.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int][]models.MessageStatus, len(s.history))
	for id, h := range s.history {
		out[id] = append([]models.MessageStatus(nil), h...)
	}
	return out
}

var errBrokenPipe = errors.New("broken pipe")

// recorder is a realtime.Conn that keeps every event it was sent.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
	fail   bool
}

func (r *recorder) Send(ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokenPipe
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
