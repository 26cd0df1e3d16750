package console

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ZapDesk/entity"
	"ZapDesk/internal/lib/sl"
)

// Deps are the collaborators a Session is composed around. Cache and
// Ledger are process-wide and shared between operator sessions; the
// rest may be shared or per-session.
type Deps struct {
	Transport     Transport
	History       HistoryStore
	Conversations ConversationStore
	Cache         *Cache
	Ledger        *Ledger
	Sink          EventSink
	Log           *slog.Logger

	PageSize     int
	NearBottomPx int
	NearTopPx    int
}

const (
	defaultPageSize     = 30
	defaultNearBottomPx = 80
	defaultNearTopPx    = 80
)

// fetchTag identifies the state an async fetch was issued for. A
// completion whose tag no longer matches the current state must not
// touch the active view.
type fetchTag struct {
	chatID string
	epoch  uint64
}

// Session is one operator's view of the console: the active
// conversation's timeline, per-conversation scroll anchors, and the
// conversation list. All mutation goes through the session mutex;
// timelines and anchors are only ever touched while it is held.
type Session struct {
	mu sync.Mutex

	transport     Transport
	history       HistoryStore
	conversations ConversationStore
	cache         *Cache
	ledger        *Ledger
	sink          EventSink
	log           *slog.Logger

	pageSize int

	list      []entity.Conversation
	timelines map[string]*Timeline
	anchors   map[string]*Anchor
	active    string
	epoch     uint64

	nearBottomPx int
	nearTopPx    int
}

// NewSession creates a session with no active conversation.
func NewSession(deps Deps) *Session {
	if deps.PageSize <= 0 {
		deps.PageSize = defaultPageSize
	}
	if deps.NearBottomPx <= 0 {
		deps.NearBottomPx = defaultNearBottomPx
	}
	if deps.NearTopPx <= 0 {
		deps.NearTopPx = defaultNearTopPx
	}
	return &Session{
		transport:     deps.Transport,
		history:       deps.History,
		conversations: deps.Conversations,
		cache:         deps.Cache,
		ledger:        deps.Ledger,
		sink:          deps.Sink,
		log:           deps.Log.With(sl.Module("console.session")),
		pageSize:      deps.PageSize,
		timelines:     make(map[string]*Timeline),
		anchors:       make(map[string]*Anchor),
		nearBottomPx:  deps.NearBottomPx,
		nearTopPx:     deps.NearTopPx,
	}
}

// ActiveConversation returns the currently selected chat id, if any.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SelectConversation makes chatID the active conversation. The cached
// timeline is shown immediately; the latest page is fetched in the
// background and merged when it lands, unless the operator has moved
// on by then. Scroll intent resets to stick-to-bottom and the
// conversation's own history guard is primed.
func (s *Session) SelectConversation(ctx context.Context, chatID string) {
	s.mu.Lock()
	s.active = chatID
	s.epoch++
	tag := fetchTag{chatID: chatID, epoch: s.epoch}

	tl := s.timelineLocked(chatID)
	anchor := s.anchorLocked(chatID)
	anchor.Reset()

	s.emitTimelineLocked(chatID, ChangeInitialLoad)
	s.mu.Unlock()

	go func() {
		page, err := s.history.MessagesBefore(ctx, chatID, time.Time{}, s.pageSize)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.log.Error("load latest page", slog.String("chat_id", chatID), sl.Err(err))
			return
		}
		tl.SetHasMoreHistory(len(page) == s.pageSize)
		tl.PrependHistory(page)
		if s.currentLocked(tag) {
			s.emitTimelineLocked(chatID, ChangeInitialLoad)
		}
	}()
}

// SendMessage synthesizes an optimistic message for the active
// conversation, hands the draft to the transport and returns the
// temporary id. The viewport snaps to the bottom regardless of the
// current scroll position.
func (s *Session) SendMessage(ctx context.Context, draft entity.Draft) (string, error) {
	s.mu.Lock()
	chatID := s.active
	if chatID == "" {
		s.mu.Unlock()
		return "", fmt.Errorf("no active conversation")
	}
	if s.transport == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("transport not available")
	}

	tl := s.timelineLocked(chatID)
	msg := tl.AppendOptimistic(draft, entity.RoleAgent)
	s.anchorLocked(chatID).NoteLocalSend()
	s.touchConversationLocked(msg)
	s.emitTimelineLocked(chatID, ChangeLocalSend)
	s.mu.Unlock()

	tempID := msg.ID
	err := s.transport.Send(ctx, chatID, draft, func(server entity.Message, err error) {
		s.completeSend(chatID, tempID, server, err)
	})
	if err != nil {
		s.mu.Lock()
		tl.MarkFailed(tempID)
		if s.active == chatID {
			s.emitTimelineLocked(chatID, ChangeIncoming)
		}
		s.mu.Unlock()
		return tempID, err
	}
	return tempID, nil
}

// completeSend applies the transport acknowledgement. The message is
// promoted in its own conversation's timeline, whichever conversation
// is active by now; the view is only re-emitted when it still shows
// that conversation.
func (s *Session) completeSend(chatID, tempID string, server entity.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl := s.timelineLocked(chatID)
	if err != nil {
		s.log.Warn("send not acknowledged",
			slog.String("chat_id", chatID),
			slog.String("temp_id", tempID),
			sl.Err(err),
		)
		tl.MarkFailed(tempID)
	} else {
		server.ConversationID = chatID
		tl.Promote(tempID, server)
		s.touchConversationLocked(server)
	}

	if s.active == chatID {
		s.emitTimelineLocked(chatID, ChangeIncoming)
	}
}

// ReportViewport records the operator's scroll geometry for the active
// conversation. A near-top position triggers a history page fetch,
// guarded so at most one is in flight per conversation.
func (s *Session) ReportViewport(ctx context.Context, v Viewport) {
	s.mu.Lock()
	chatID := s.active
	if chatID == "" {
		s.mu.Unlock()
		return
	}
	nearTop := s.anchorLocked(chatID).ReportViewport(v)
	s.mu.Unlock()

	if nearTop {
		s.LoadOlderIfNeeded(ctx)
	}
}

// LoadOlderIfNeeded fetches the next page of older history for the
// active conversation. A second trigger while a fetch is pending is
// ignored, not queued. The scroll position relative to existing
// content is preserved when the page is prepended.
func (s *Session) LoadOlderIfNeeded(ctx context.Context) {
	s.mu.Lock()
	chatID := s.active
	if chatID == "" {
		s.mu.Unlock()
		return
	}
	tl := s.timelineLocked(chatID)
	anchor := s.anchorLocked(chatID)

	if !tl.HasMoreHistory() || !anchor.BeginLoadOlder() {
		s.mu.Unlock()
		return
	}
	before, ok := tl.Oldest()
	if !ok {
		before = time.Time{}
	}
	tag := fetchTag{chatID: chatID, epoch: s.epoch}
	s.mu.Unlock()

	go func() {
		page, err := s.history.MessagesBefore(ctx, chatID, before, s.pageSize)

		s.mu.Lock()
		defer s.mu.Unlock()
		// The guard belongs to the conversation the fetch was issued
		// for, so release it there even if the operator moved on.
		anchor.FinishLoadOlder()
		if err != nil {
			s.log.Error("load older page", slog.String("chat_id", chatID), sl.Err(err))
			return
		}
		tl.SetHasMoreHistory(len(page) == s.pageSize)
		tl.PrependHistory(page)

		// A slow fetch for a previous conversation must not move the
		// scroll position of the one the operator looks at now.
		if s.currentLocked(tag) {
			s.emitTimelineLocked(chatID, ChangePrepend)
		}
	}()
}

// HandleMessage merges a pushed message into its conversation's
// timeline, updates the conversation row (preview, recency, unread)
// and re-renders whichever surface it affects.
func (s *Session) HandleMessage(msg entity.Message) {
	if msg.ConversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tl := s.timelineLocked(msg.ConversationID)
	changed := tl.Merge(msg)

	s.touchConversationLocked(msg)
	// Unread accounting happens once upstream, before the fan-out to
	// sessions. The row only mirrors the shared ledger here.
	if conv := s.findConversationLocked(msg.ConversationID); conv != nil {
		conv.Unread = s.ledger.Count(msg.ConversationID)
	}

	if s.active == msg.ConversationID && changed {
		s.emitTimelineLocked(msg.ConversationID, ChangeIncoming)
	}
	s.sink.ConversationsChanged(s.listCopyLocked())
}

// HandleMessageUpdate applies a partial update pushed by the transport
// (delivery transitions, media resolution).
func (s *Session) HandleMessageUpdate(u entity.MessageUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chatID, tl := range s.timelines {
		if !tl.ApplyUpdate(u) {
			continue
		}
		if s.active == chatID {
			if msg, ok := s.findMessageLocked(tl, u.MessageID); ok {
				s.sink.MessageUpdated(chatID, msg)
			}
		}
		return
	}
}

// VisibleMessages returns the active conversation's ordered message
// list.
func (s *Session) VisibleMessages() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return nil
	}
	return s.timelineLocked(s.active).Messages()
}

// Conversations returns the current conversation list, most recent
// first.
func (s *Session) Conversations() []entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCopyLocked()
}

// UnreadCount returns the ledger's counter for a conversation.
func (s *Session) UnreadCount(chatID string) int {
	return s.ledger.Count(chatID)
}

// MarkRead zeroes the unread counter for a conversation and updates
// the list row.
func (s *Session) MarkRead(chatID string) {
	s.ledger.MarkRead(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv := s.findConversationLocked(chatID); conv != nil {
		conv.Unread = 0
	}
	s.sink.ConversationsChanged(s.listCopyLocked())
}

// RefreshConversations reloads the conversation list from the store.
// Server-reported unread counts are reconciled with the local ledger
// (max, fenced by the read cursor so a stale recount cannot resurrect
// a read chat), embedded display data is primed into
// the enrichment cache, and rows without a real identity are put under
// visibility observation for lazy resolution.
func (s *Session) RefreshConversations(ctx context.Context) error {
	rows, err := s.conversations.ActiveConversations(ctx, 0)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]entity.Conversation, 0, len(rows))
	for _, row := range rows {
		row.Unread = s.ledger.Reconcile(row.ChatID, row.Unread, row.LastMessageAt)

		// A value embedded in a fresh record is authoritative: it
		// short-circuits the cache-miss path entirely.
		if row.Name != "" || row.Avatar != "" {
			id := s.cache.Prime(row.ChatID, entity.Identity{
				Name:   row.Name,
				Avatar: row.Avatar,
			})
			row.Name = ResolveDisplayName(row.ChatID, id.Name, row.Name)
			row.Avatar = id.Avatar
		} else if id, ok := s.cache.Get(row.ChatID); ok {
			row.Name = ResolveDisplayName(row.ChatID, id.Name)
			row.Avatar = id.Avatar
		} else {
			row.Name = PrettyKey(row.ChatID)
		}
		if IsPlaceholderName(row.Name) || row.Avatar == "" {
			s.cache.Observe(row.ChatID)
		}
		row.IsGroup = IsGroupKey(row.ChatID)
		list = append(list, row)
	}
	sortByRecency(list)
	s.list = list
	s.sink.ConversationsChanged(s.listCopyLocked())
	return nil
}

// NotifyRowVisible reports that a conversation row entered the
// viewport (or came within the pre-fetch margin). Starts at most one
// background enrichment resolution per key.
func (s *Session) NotifyRowVisible(ctx context.Context, key string) {
	if !s.cache.NotifyVisible(key) {
		return
	}
	go func() {
		id, err := s.cache.Resolve(ctx, key)
		if err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		conv := s.findConversationLocked(key)
		if conv == nil {
			return
		}
		conv.Name = ResolveDisplayName(key, id.Name, conv.Name)
		if id.Avatar != "" {
			conv.Avatar = id.Avatar
		}
		s.sink.ConversationsChanged(s.listCopyLocked())
	}()
}

// Enrichment returns the cached display identity for a key, if any.
func (s *Session) Enrichment(key string) (entity.Identity, bool) {
	return s.cache.Get(key)
}

// Close flushes pending ledger state. Called when the operator's
// connection goes away.
func (s *Session) Close(ctx context.Context) error {
	return s.ledger.Flush(ctx)
}

// --- internals, all called with s.mu held ---

func (s *Session) timelineLocked(chatID string) *Timeline {
	tl, ok := s.timelines[chatID]
	if !ok {
		tl = NewTimeline(chatID)
		s.timelines[chatID] = tl
	}
	return tl
}

func (s *Session) anchorLocked(chatID string) *Anchor {
	a, ok := s.anchors[chatID]
	if !ok {
		a = NewAnchor(s.nearBottomPx, s.nearTopPx)
		s.anchors[chatID] = a
	}
	return a
}

func (s *Session) currentLocked(tag fetchTag) bool {
	return s.active == tag.chatID && s.epoch == tag.epoch
}

func (s *Session) emitTimelineLocked(chatID string, kind ChangeKind) {
	tl := s.timelineLocked(chatID)
	directive := s.anchorLocked(chatID).Decide(kind)
	s.sink.TimelineChanged(chatID, tl.Messages(), directive)
}

func (s *Session) findConversationLocked(chatID string) *entity.Conversation {
	for i := range s.list {
		if s.list[i].ChatID == chatID {
			return &s.list[i]
		}
	}
	return nil
}

func (s *Session) findMessageLocked(tl *Timeline, id string) (entity.Message, bool) {
	for _, m := range tl.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return entity.Message{}, false
}

// touchConversationLocked updates the list row for a new last message,
// creating the row when the conversation is not listed yet, and
// re-sorts by recency.
func (s *Session) touchConversationLocked(msg entity.Message) {
	conv := s.findConversationLocked(msg.ConversationID)
	if conv == nil {
		s.list = append(s.list, entity.Conversation{
			ChatID:  msg.ConversationID,
			Name:    PrettyKey(msg.ConversationID),
			Status:  entity.StatusActive,
			IsGroup: IsGroupKey(msg.ConversationID),
			Unread:  s.ledger.Count(msg.ConversationID),
		})
		conv = &s.list[len(s.list)-1]
		s.cache.Observe(msg.ConversationID)
	}
	if msg.Timestamp.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.Timestamp
		conv.LastPreview = buildPreview(msg)
	}
	sortByRecency(s.list)
}

func (s *Session) listCopyLocked() []entity.Conversation {
	out := make([]entity.Conversation, len(s.list))
	copy(out, s.list)
	return out
}

func sortByRecency(list []entity.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}

// buildPreview renders the one-line list preview for a message.
func buildPreview(msg entity.Message) string {
	switch msg.Kind {
	case entity.KindImage:
		return "\U0001F4F7 Photo"
	case entity.KindVideo:
		return "\U0001F3A5 Video"
	case entity.KindAudio:
		return "\U0001F3A4 Audio"
	case entity.KindSticker:
		return "Sticker"
	case entity.KindFile:
		return "\U0001F4CE File"
	default:
		const maxPreview = 80
		if runes := []rune(msg.Content); len(runes) > maxPreview {
			return string(runes[:maxPreview]) + "…"
		}
		return msg.Content
	}
}
