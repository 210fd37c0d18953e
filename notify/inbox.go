package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rexlx/marconilink/kv"
)

const (
	statePrefix = "notify:state:"
	inboxPrefix = "notify:inbox:"

	DefaultInboxSize = 50
)

// Inbox persists subscriptions, diff state and delivered notifications in
// the key-value store. A user is subscribed while a state record exists.
type Inbox struct {
	store kv.Store
	size  int
	now   func() time.Time

	// guards read-modify-write of inbox lists and subscription state
	// within this process
	mu sync.Mutex
}

func NewInbox(store kv.Store, size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{store: store, size: size, now: time.Now}
}

func (in *Inbox) Subscribe(ctx context.Context, userID string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	_, err := in.store.Get(ctx, statePrefix+userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return in.SaveState(ctx, userID, State{UserPostComments: map[string]int{}})
}

func (in *Inbox) Unsubscribe(ctx context.Context, userID string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.store.Delete(ctx, statePrefix+userID)
}

// Subscribers lists subscribed user IDs in key order.
func (in *Inbox) Subscribers(ctx context.Context) ([]string, error) {
	entries, err := in.store.List(ctx, statePrefix)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimPrefix(e.Key, statePrefix))
	}
	return ids, nil
}

// State returns the stored diff state. ok is false when the user is not
// subscribed.
func (in *Inbox) State(ctx context.Context, userID string) (State, bool, error) {
	var st State
	raw, err := in.store.Get(ctx, statePrefix+userID)
	if errors.Is(err, kv.ErrNotFound) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, false, fmt.Errorf("decode state for %s: %w", userID, err)
	}
	if st.UserPostComments == nil {
		st.UserPostComments = map[string]int{}
	}
	return st, true, nil
}

func (in *Inbox) SaveState(ctx context.Context, userID string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return in.store.Set(ctx, statePrefix+userID, raw)
}

// Advance delivers ns and stores next as the user's diff state, unless the
// user unsubscribed since the state was read. It reports whether anything
// was written.
func (in *Inbox) Advance(ctx context.Context, userID string, next State, ns ...Notification) (bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	_, err := in.store.Get(ctx, statePrefix+userID)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := in.appendLocked(ctx, userID, ns); err != nil {
		return false, err
	}
	return true, in.SaveState(ctx, userID, next)
}

// Append stamps the notifications for userID and adds them to the inbox,
// dropping the oldest entries beyond the configured size.
func (in *Inbox) Append(ctx context.Context, userID string, ns ...Notification) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.appendLocked(ctx, userID, ns)
}

func (in *Inbox) appendLocked(ctx context.Context, userID string, ns []Notification) error {
	if len(ns) == 0 {
		return nil
	}
	list, err := in.list(ctx, userID)
	if err != nil {
		return err
	}
	now := in.now().UTC()
	for _, n := range ns {
		n.ID = uuid.New().String()
		n.UserID = userID
		n.CreatedAt = now
		list = append(list, n)
	}
	if len(list) > in.size {
		list = list[len(list)-in.size:]
	}
	return in.save(ctx, userID, list)
}

// List returns the inbox, oldest first.
func (in *Inbox) List(ctx context.Context, userID string) ([]Notification, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.list(ctx, userID)
}

// MarkRead stamps every unread notification and reports how many changed.
func (in *Inbox) MarkRead(ctx context.Context, userID string) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	list, err := in.list(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := in.now().UTC()
	n := 0
	for i := range list {
		if list[i].ReadAt == nil {
			list[i].ReadAt = &now
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, in.save(ctx, userID, list)
}

func (in *Inbox) list(ctx context.Context, userID string) ([]Notification, error) {
	raw, err := in.store.Get(ctx, inboxPrefix+userID)
	if errors.Is(err, kv.ErrNotFound) {
		return []Notification{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Notification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode inbox for %s: %w", userID, err)
	}
	return list, nil
}

func (in *Inbox) save(ctx context.Context, userID string, list []Notification) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return in.store.Set(ctx, inboxPrefix+userID, raw)
}

// Broadcast appends n to every subscriber's inbox and returns how many
// inboxes received it.
func (in *Inbox) Broadcast(ctx context.Context, n Notification) (int, error) {
	ids, err := in.Subscribers(ctx)
	if err != nil {
		return 0, err
	}
	if n.Tag == "" {
		n.Tag = TagBroadcast
	}
	for i, id := range ids {
		if err := in.Append(ctx, id, n); err != nil {
			return i, fmt.Errorf("broadcast to %s: %w", id, err)
		}
	}
	return len(ids), nil
}
