package invalidation

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Subscription is one active push subscription.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber opens push subscriptions for a set of keys on one entity.
// notify is called for every change notification.
type Subscriber interface {
	Subscribe(ref entity.Ref, scope telemetry.Scope, keys []string, notify func()) (Subscription, error)
}

// PushChannel holds the push subscriptions of one overlay instance.
type PushChannel struct {
	subscriber Subscriber
	notify     func()
	logger     Logger

	mu   sync.Mutex
	subs []Subscription
}

// NewPushChannel creates a channel calling notify on every notification.
// A nil subscriber makes Open a no-op.
func NewPushChannel(subscriber Subscriber, notify func(), logger Logger) *PushChannel {
	if logger == nil {
		logger = noopLogger{}
	}
	return &PushChannel{subscriber: subscriber, notify: notify, logger: logger}
}

// Open subscribes once per scope to the distinct keys listed for that
// scope. Existing subscriptions are closed first. Failures are logged and
// leave that scope without push. It returns the number of subscriptions
// now active.
func (p *PushChannel) Open(ref entity.Ref, keys map[telemetry.Scope][]string) int {
	p.Close()
	if p.subscriber == nil || ref.IsZero() {
		return 0
	}

	scopes := make([]telemetry.Scope, 0, len(keys))
	for scope := range keys {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })

	var opened []Subscription
	for _, scope := range scopes {
		set := distinctKeys(keys[scope])
		if len(set) == 0 {
			continue
		}
		sub, err := p.subscriber.Subscribe(ref, scope, set, p.notify)
		if err != nil {
			p.logger.Warn("push subscription failed, polling only",
				"entity", ref.String(), "scope", scope.String(), "error", err)
			continue
		}
		p.logger.Info("push subscription active",
			"entity", ref.String(), "scope", scope.String(), "keys", len(set))
		opened = append(opened, sub)
	}

	p.mu.Lock()
	p.subs = opened
	p.mu.Unlock()
	return len(opened)
}

// Close removes every subscription. Unsubscribe errors are logged.
func (p *PushChannel) Close() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("removing push subscriptions", "error", err)
	}
}

// Active returns the number of open subscriptions.
func (p *PushChannel) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// distinctKeys trims, dedupes case-insensitively and sorts keys.
func distinctKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		norm := strings.ToLower(k)
		if k == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
