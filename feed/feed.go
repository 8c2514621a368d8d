package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"bunnyup/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned once the feed has been torn down. Results that
// arrive after teardown are discarded.
var ErrClosed = errors.New("feed closed")

// UserResolver looks up the public profile of a user
type UserResolver interface {
	Resolve(ctx context.Context, userID string) (models.User, error)
}

// Option configures a Feed
type Option func(*Feed)

// WithPageSize sets the step the limit grows by on every LoadMore
func WithPageSize(step int) Option {
	return func(f *Feed) { f.step = step }
}

// WithResolver sets the lookup used to fill in the author of pushed rows
func WithResolver(r UserResolver) Option {
	return func(f *Feed) { f.resolver = r }
}

// WithLiker enables ToggleLike
func WithLiker(l *Liker) Option {
	return func(f *Feed) { f.liker = l }
}

// WithInitial seeds the feed with a snapshot, e.g. one restored from cache
func WithInitial(posts []models.Post) Option {
	return func(f *Feed) { f.posts = slices.Clone(posts) }
}

// WithFixedMembership makes the feed ignore pushed post inserts. Used when
// the feed mirrors a single post.
func WithFixedMembership() Option {
	return func(f *Feed) { f.fixed = true }
}

// Feed is the observable list screens bind to. Mutations happen under mu and
// always swap in a new slice. Subscribers never see an older snapshot after
// a newer one.
type Feed struct {
	mu      sync.RWMutex
	posts   []models.Post
	closed  bool
	version uint64

	// loadMu keeps LoadMore calls from overlapping
	loadMu sync.Mutex
	pager  *Pager
	step   int

	resolver UserResolver
	liker    *Liker
	fixed    bool

	subMu       sync.Mutex
	subscribers map[string]chan []models.Post
	published   uint64
}

func New(fetcher Fetcher, opts ...Option) *Feed {
	f := &Feed{
		step:        10,
		subscribers: make(map[string]chan []models.Post),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.pager = NewPager(fetcher, f.step)
	return f
}

// Snapshot returns the current list. Callers must not modify it.
func (f *Feed) Snapshot() []models.Post {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.posts
}

// Post returns the post with the given id from the current snapshot
func (f *Feed) Post(id int64) (models.Post, bool) {
	posts := f.Snapshot()
	idx := indexOfPost(posts, id)
	if idx < 0 {
		return models.Post{}, false
	}
	return posts[idx], true
}

// Limit is the limit of the last successful page fetch
func (f *Feed) Limit() int {
	f.loadMu.Lock()
	defer f.loadMu.Unlock()
	return f.pager.Limit()
}

// Exhausted reports whether the end of the feed has been reached
func (f *Feed) Exhausted() bool {
	f.loadMu.Lock()
	defer f.loadMu.Unlock()
	return f.pager.Exhausted()
}

// LoadMore fetches the next, larger page and merges it into the list. It
// returns true once the end of the feed has been reached, in which case no
// further fetches are made.
func (f *Feed) LoadMore(ctx context.Context) (bool, error) {
	f.loadMu.Lock()
	defer f.loadMu.Unlock()

	if f.isClosed() {
		return false, ErrClosed
	}
	if f.pager.Exhausted() {
		return true, nil
	}

	page, exhausted, err := f.pager.Next(ctx)
	if err != nil {
		pageFetches.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to load posts: %w", err)
	}
	pageFetches.WithLabelValues("ok").Inc()

	log.WithFields(log.Fields{
		"limit":     f.pager.Limit(),
		"fetched":   len(page),
		"exhausted": exhausted,
	}).Debug("Fetched feed page")

	if !f.mutate(func(posts []models.Post) []models.Post { return MergePage(posts, page, exhausted) }) {
		log.Debug("Discarding feed page that arrived after teardown")
		return exhausted, ErrClosed
	}
	return exhausted, nil
}

// Apply merges one change event into the list. Unknown event types are
// ignored.
func (f *Feed) Apply(ctx context.Context, event interface{}) error {
	if f.isClosed() {
		return ErrClosed
	}

	var kind string
	var change func([]models.Post) []models.Post

	switch event := event.(type) {
	case models.CreatePostEvent:
		kind = "post_insert"
		if f.fixed {
			eventsIgnored.WithLabelValues(kind).Inc()
			return nil
		}
		post := event.Post
		if post.User == nil {
			user := f.resolve(ctx, post.UserID)
			post.User = &user
		}
		change = func(posts []models.Post) []models.Post { return InsertPost(posts, post) }
	case models.UpdatePostEvent:
		kind = "post_update"
		change = func(posts []models.Post) []models.Post { return UpdatePost(posts, event.ID, event.Patch) }
	case models.DeletePostEvent:
		kind = "post_delete"
		change = func(posts []models.Post) []models.Post { return DeletePost(posts, event.ID) }
	case models.CreateCommentEvent:
		kind = "comment_insert"
		comment := event.Comment
		if indexOfPost(f.Snapshot(), comment.PostID) < 0 {
			eventsIgnored.WithLabelValues(kind).Inc()
			return nil
		}
		if comment.User == nil {
			user := f.resolve(ctx, comment.UserID)
			comment.User = &user
		}
		change = func(posts []models.Post) []models.Post { return InsertComment(posts, comment.PostID, comment) }
	case models.DeleteCommentEvent:
		kind = "comment_delete"
		change = func(posts []models.Post) []models.Post { return DeleteComment(posts, event.ID) }
	case models.CreateLikeEvent:
		kind = "like_insert"
		change = func(posts []models.Post) []models.Post { return InsertLike(posts, event.Like) }
	case models.DeleteLikeEvent:
		kind = "like_delete"
		change = func(posts []models.Post) []models.Post { return DeleteLike(posts, event) }
	default:
		log.WithField("event", fmt.Sprintf("%T", event)).Debug("Ignoring unknown feed event")
		return nil
	}

	changed := false
	ok := f.mutate(func(posts []models.Post) []models.Post {
		next := change(posts)
		changed = !samePosts(posts, next)
		return next
	})
	if !ok {
		return ErrClosed
	}

	if changed {
		eventsApplied.WithLabelValues(kind).Inc()
	} else {
		eventsIgnored.WithLabelValues(kind).Inc()
	}
	return nil
}

// Run applies events in delivery order until the channel closes, the context
// is cancelled or the feed is closed
func (f *Feed) Run(ctx context.Context, events <-chan interface{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := f.Apply(ctx, event); errors.Is(err, ErrClosed) {
				return nil
			} else if err != nil {
				log.Errorf("Error applying feed event: %v", err)
			}
		}
	}
}

// ToggleLike likes or unlikes a post for userID and returns the post's likes
// afterwards. On failure the list is left as it was.
func (f *Feed) ToggleLike(ctx context.Context, postID int64, userID string) ([]models.Like, error) {
	if f.liker == nil {
		return nil, errors.New("feed has no like store")
	}
	post, ok := f.Post(postID)
	if !ok {
		return nil, fmt.Errorf("post %d is not in the feed", postID)
	}

	likes, created, err := f.liker.toggle(ctx, post.Likes, postID, userID)
	if err != nil {
		return post.Likes, err
	}

	applied := f.mutate(func(posts []models.Post) []models.Post {
		if created == nil {
			return DeleteLike(posts, models.DeleteLikeEvent{PostID: postID, UserID: userID})
		}
		return InsertLike(posts, *created)
	})
	if !applied {
		return likes, ErrClosed
	}

	if post, ok := f.Post(postID); ok {
		return post.Likes, nil
	}
	return likes, nil
}

// Subscribe registers a listener for published snapshots. The channel keeps
// only the latest snapshot if the listener falls behind.
func (f *Feed) Subscribe() (string, <-chan []models.Post) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	key := uuid.NewString()
	ch := make(chan []models.Post, 1)
	if f.isClosed() {
		close(ch)
		return key, ch
	}
	f.subscribers[key] = ch
	return key, ch
}

// Unsubscribe removes and closes a listener
func (f *Feed) Unsubscribe(key string) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if ch, ok := f.subscribers[key]; ok {
		close(ch)
		delete(f.subscribers, key)
	}
}

// Close tears the feed down. Later fetch results and events are dropped and
// every subscriber channel is closed.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.subMu.Lock()
	defer f.subMu.Unlock()
	for key, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, key)
	}
}

func (f *Feed) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// mutate swaps in the list returned by change and publishes it. It returns
// false when the feed is closed.
func (f *Feed) mutate(change func([]models.Post) []models.Post) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	next := change(f.posts)
	publish := !samePosts(f.posts, next)
	f.posts = next
	if publish {
		f.version++
	}
	version := f.version
	f.mu.Unlock()

	if publish {
		f.publish(next, version)
	}
	return true
}

// publish hands posts to every subscriber unless a newer version has been
// published already
func (f *Feed) publish(posts []models.Post, version uint64) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if version <= f.published {
		return
	}
	f.published = version
	feedSize.Set(float64(len(posts)))

	for _, ch := range f.subscribers {
		select {
		case ch <- posts:
		default:
			// Drop the stale snapshot the listener has not read yet
			select {
			case <-ch:
			default:
			}
			ch <- posts
		}
	}
}

func (f *Feed) resolve(ctx context.Context, userID string) models.User {
	fallback := models.User{ID: userID, Name: "Unknown"}
	if f.resolver == nil {
		return fallback
	}
	user, err := f.resolver.Resolve(ctx, userID)
	if err != nil {
		log.WithFields(log.Fields{
			"userId": userID,
			"error":  err,
		}).Warn("Could not resolve author of pushed row")
		return fallback
	}
	return user
}

// samePosts reports whether two snapshots are the same slice. The reconcile
// functions return their input unchanged when nothing changed.
func samePosts(a, b []models.Post) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
