package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"astromatch-backend/internal/model"
	"astromatch-backend/internal/store"
)

// Presence is the live presence report for an astrologer's client.
type Presence struct {
	Success bool
	Show    string
}

// Reachable reports whether a push notification is worth attempting.
func (p *Presence) Reachable() bool {
	return p != nil && p.Success && (p.Show == "available" || p.Show == "chat")
}

// PresenceClient checks an astrologer's live presence.
type PresenceClient interface {
	Check(ctx context.Context, astrologerID int64) (*Presence, error)
}

// VoiceClient places an outbound call reminder to an astrologer's phone.
type VoiceClient interface {
	PlaceReminder(ctx context.Context, phoneNumber string, astrologerID int64, durationSeconds int) error
}

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of PushSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// pushEvent is the JSON payload delivered to astrologer clients.
type pushEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// Notifier drives the per-astrologer notification pipeline after an offer set
// is persisted: push events when the client is present, a voice call reminder
// otherwise, and a delayed voice escalation when push goes unacknowledged.
//
// Every call it makes is best-effort. One astrologer's failure never blocks
// another's, and nothing here rolls back persisted offers.
type Notifier struct {
	store           store.Store
	presence        PresenceClient
	voice           VoiceClient
	webpush         *webpush.Options
	sender          PushSender
	presenceCache   *cache.Cache
	escalateAfter   time.Duration
	reminderSeconds int

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Notifier. escalateAfter is how long an astrologer gets to
// acknowledge the push before the voice escalation fires.
func New(s store.Store, presence PresenceClient, voice VoiceClient, webpushOptions *webpush.Options,
	escalateAfter time.Duration, presenceCacheTTL time.Duration, reminderSeconds int) *Notifier {
	return &Notifier{
		store:           s,
		presence:        presence,
		voice:           voice,
		webpush:         webpushOptions,
		sender:          &WebPushSender{},
		presenceCache:   cache.New(presenceCacheTTL, 2*presenceCacheTTL),
		escalateAfter:   escalateAfter,
		reminderSeconds: reminderSeconds,
		timers:          make(map[string]*time.Timer),
	}
}

// SetSender overrides the web push sender, for tests.
func (n *Notifier) SetSender(sender PushSender) {
	n.sender = sender
}

// NotifyOffer fans out one notification pass per newly offered astrologer and
// waits for all of them. Errors are captured per astrologer.
func (n *Notifier) NotifyOffer(ctx context.Context, session *model.Session, astrologerIDs []int64) {
	var wg sync.WaitGroup
	for _, astrologerID := range astrologerIDs {
		wg.Add(1)
		go func(astrologerID int64) {
			defer wg.Done()
			if err := n.notifyOne(ctx, session, astrologerID); err != nil {
				log.Printf("Error notifying astrologer %d for session %d: %v", astrologerID, session.ID, err)
			}
		}(astrologerID)
	}
	wg.Wait()
}

func (n *Notifier) notifyOne(ctx context.Context, session *model.Session, astrologerID int64) error {
	astrologer, err := n.store.GetAstrologer(ctx, astrologerID)
	if err != nil {
		return fmt.Errorf("failed to load astrologer: %w", err)
	}

	// A push to a non-available client is presumed undeliverable; go straight
	// to the phone.
	if astrologer.Status != model.AstrologerAvailable {
		return n.placeReminder(ctx, astrologer)
	}

	presence, err := n.checkPresence(ctx, astrologerID)
	if err != nil {
		log.Printf("Presence check failed for astrologer %d: %v", astrologerID, err)
	}
	if !presence.Reachable() {
		return n.placeReminder(ctx, astrologer)
	}

	n.sendOfferEvents(ctx, session, astrologer)
	n.scheduleEscalation(session.ID, astrologerID)
	return nil
}

// checkPresence queries the presence gateway, caching results briefly so a
// burst of offers does not hammer it.
func (n *Notifier) checkPresence(ctx context.Context, astrologerID int64) (*Presence, error) {
	key := fmt.Sprintf("%d", astrologerID)
	if cached, found := n.presenceCache.Get(key); found {
		return cached.(*Presence), nil
	}
	presence, err := n.presence.Check(ctx, astrologerID)
	if err != nil {
		return nil, err
	}
	n.presenceCache.SetDefault(key, presence)
	return presence, nil
}

// sendOfferEvents delivers the two push events to every subscription the
// astrologer holds: a waiting-list notice and the order detail.
func (n *Notifier) sendOfferEvents(ctx context.Context, session *model.Session, astrologer *model.Astrologer) {
	subscriptions, err := n.store.SubscriptionsForAstrologer(ctx, astrologer.ID)
	if err != nil {
		log.Printf("Error fetching subscriptions for astrologer %d: %v", astrologer.ID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	notice := pushEvent{
		Event:   fmt.Sprintf("%s notification", session.Type),
		Message: "user added to waiting list, please join",
	}
	order := pushEvent{
		Event:   "new order",
		Message: fmt.Sprintf("Getting order from %s", session.UserName),
		Type:    session.Type,
	}

	for _, event := range []pushEvent{notice, order} {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("Error marshaling push event for astrologer %d: %v", astrologer.ID, err)
			continue
		}
		for _, sub := range subscriptions {
			n.sendPush(ctx, sub, payload)
		}
	}
}

// sendPush sends a single web push notification, cleaning up subscriptions the
// push service reports gone.
func (n *Notifier) sendPush(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := n.sender.Send(payload, wpSub, n.webpush)
	if err != nil {
		log.Printf("Error sending push to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := n.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}

// scheduleEscalation arms a one-shot voice escalation for this offer. Re-arming
// the same session/astrologer pair replaces the previous timer. The fired
// callback re-validates everything: a session that resolved in the meantime
// makes the escalation a no-op.
func (n *Notifier) scheduleEscalation(sessionID, astrologerID int64) {
	key := fmt.Sprintf("%d:%d", sessionID, astrologerID)

	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.timers[key]; ok {
		prev.Stop()
	}
	n.timers[key] = time.AfterFunc(n.escalateAfter, func() {
		n.mu.Lock()
		delete(n.timers, key)
		n.mu.Unlock()
		n.escalate(sessionID, astrologerID)
	})
}

// escalate runs when the escalation timer fires, detached from the sweep tick
// that armed it.
func (n *Notifier) escalate(sessionID, astrologerID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := n.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("Escalation check failed for session %d: %v", sessionID, err)
		return
	}
	if session.Status != model.StatusWaiting {
		return
	}

	astrologer, err := n.store.GetAstrologer(ctx, astrologerID)
	if err != nil {
		log.Printf("Escalation check failed for astrologer %d: %v", astrologerID, err)
		return
	}
	if astrologer.Status != model.AstrologerAvailable {
		return
	}

	if err := n.placeReminder(ctx, astrologer); err != nil {
		log.Printf("Error escalating to voice for astrologer %d: %v", astrologerID, err)
	}
}

func (n *Notifier) placeReminder(ctx context.Context, astrologer *model.Astrologer) error {
	if astrologer.PhoneNumber == "" {
		return fmt.Errorf("astrologer %d has no phone number", astrologer.ID)
	}
	return n.voice.PlaceReminder(ctx, astrologer.PhoneNumber, astrologer.ID, n.reminderSeconds)
}

// PendingEscalations returns the number of armed escalation timers.
func (n *Notifier) PendingEscalations() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}

// Stop cancels all pending escalation timers. Used on shutdown.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, timer := range n.timers {
		timer.Stop()
		delete(n.timers, key)
	}
}
