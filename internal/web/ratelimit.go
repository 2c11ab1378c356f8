package web

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// limiterIdle is how long a client's limiter survives without requests.
const limiterIdle = 10 * time.Minute

// IPRateLimiter hands out a token bucket per client address. Buckets of idle
// clients expire from the store.
type IPRateLimiter struct {
	store *cache.Cache
	r     rate.Limit
	b     int
}

// NewIPRateLimiter creates a limiter allowing r requests per second with
// bursts of b per client.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		store: cache.New(limiterIdle, 2*limiterIdle),
		r:     r,
		b:     b,
	}
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	if v, found := i.store.Get(ip); found {
		limiter := v.(*rate.Limiter)
		i.store.SetDefault(ip, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(i.r, i.b)
	if err := i.store.Add(ip, limiter, cache.DefaultExpiration); err != nil {
		// Lost a race with another request from the same client.
		if v, found := i.store.Get(ip); found {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Clients returns the number of tracked clients.
func (i *IPRateLimiter) Clients() int {
	return i.store.ItemCount()
}

// Middleware rejects requests over the client's budget with 429.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !i.GetLimiter(ip).Allow() {
			logrus.WithFields(logrus.Fields{"client": ip, "path": r.URL.Path}).Debug("Rate limited")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
