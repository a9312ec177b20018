package middleware

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/keychat/backend/pkg/utils"
)

// ClientLimiter hands out one token bucket per client address. Buckets
// unused for longer than it takes to refill are evicted.
type ClientLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientEntry
	lastSweep time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const minClientIdle = time.Minute

// NewClientLimiter allows perSecond events per client with the given burst.
// A non-positive rate disables limiting.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}

	idle := minClientIdle
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}

	return &ClientLimiter{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		clients: make(map[string]*clientEntry),
	}
}

// Allow consumes a token for client.
func (l *ClientLimiter) Allow(client string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		l.evictLocked(now)
		l.lastSweep = now
	}
	entry, ok := l.clients[client]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// evictLocked drops buckets that have been idle long enough to be full again,
// so a new bucket for the same client behaves identically.
func (l *ClientLimiter) evictLocked(now time.Time) {
	for client, entry := range l.clients {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.clients, client)
		}
	}
}

// Handler rejects requests over the limit with 429. Client identity is the
// remote host, so it should run after chi's RealIP middleware.
func (l *ClientLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientHost(r.RemoteAddr)
		if !l.Allow(client) {
			log.Printf("[ratelimit] rejected %s %s from %s", r.Method, r.URL.Path, client)
			utils.RespondError(w, http.StatusTooManyRequests, "too many attempts, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
