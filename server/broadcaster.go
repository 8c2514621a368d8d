package server

import (
	"context"
	"sync"

	"bunnyup/feed"
	"bunnyup/models"

	log "github.com/sirupsen/logrus"
)

// Broadcaster fans feed snapshots and notifications out to SSE clients
type Broadcaster struct {
	sync.RWMutex
	feedClients         map[string]chan models.FeedResponse
	notificationClients map[string]chan models.Notification
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		feedClients:         make(map[string]chan models.FeedResponse),
		notificationClients: make(map[string]chan models.Notification),
	}
}

// BroadcastFeed sends a snapshot to every client. A client that has not read
// the previous snapshot gets the new one in its place.
func (b *Broadcaster) BroadcastFeed(snapshot models.FeedResponse) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.feedClients {
		select {
		case client <- snapshot:
		default:
			select {
			case <-client:
			default:
			}
			select {
			case client <- snapshot:
			default:
				log.Warnf("Client channel full, skipping feed for client: %v", id)
			}
		}
	}
}

func (b *Broadcaster) BroadcastNotification(n models.Notification) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.notificationClients {
		select {
		case client <- n:
		default:
			log.Warnf("Client channel full, skipping notification for client: %v", id)
		}
	}
}

func (b *Broadcaster) AddClient(key string, feedClient chan models.FeedResponse, notificationClient chan models.Notification) {
	b.Lock()
	defer b.Unlock()
	b.feedClients[key] = feedClient
	b.notificationClients[key] = notificationClient
	sseClients.Set(float64(len(b.feedClients)))

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.feedClients),
	}).Info("Adding client to broadcaster")
}

// RemoveClient closes and forgets the client's channels. Unknown keys are
// ignored.
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.feedClients[key]; ok {
		close(client)
		delete(b.feedClients, key)
	}
	if client, ok := b.notificationClients[key]; ok {
		close(client)
		delete(b.notificationClients, key)
	}
	sseClients.Set(float64(len(b.feedClients)))

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.feedClients),
	}).Info("Removed client from broadcaster")
}

// Clients returns the number of connected clients
func (b *Broadcaster) Clients() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.feedClients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.feedClients {
		close(client)
		delete(b.feedClients, key)
	}
	for key, client := range b.notificationClients {
		close(client)
		delete(b.notificationClients, key)
	}
	sseClients.Set(0)
}

// Follow broadcasts every snapshot f publishes until ctx is done or the feed
// is closed
func (b *Broadcaster) Follow(ctx context.Context, f *feed.Feed) {
	key, snapshots := f.Subscribe()
	defer f.Unsubscribe(key)

	for {
		select {
		case <-ctx.Done():
			return
		case posts, ok := <-snapshots:
			if !ok {
				return
			}
			b.BroadcastFeed(snapshotResponse(f, posts))
		}
	}
}

// FollowNotifications broadcasts notification events until ctx is done or
// events closes. Other events are ignored.
func (b *Broadcaster) FollowNotifications(ctx context.Context, events <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if created, ok := event.(models.CreateNotificationEvent); ok {
				b.BroadcastNotification(created.Notification)
			}
		}
	}
}
