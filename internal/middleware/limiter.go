package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/morrigan-server/morrigan/internal/utils"
)

// ConnectionsLimiter is a middleware that limits the number of simultaneous connections per IP.
type ConnectionsLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	max         int
	realIP      *utils.RealIPExtractor
}

func NewConnectionLimiter(i int, extractor *utils.RealIPExtractor) *ConnectionsLimiter {
	return &ConnectionsLimiter{
		connections: map[string]int{},
		max:         i,
		realIP:      extractor,
	}
}

// LeaseConnection increases the number of connections held by the request's IP
// and returns a release function to be called once the request is finished.
// If the IP reaches the limit of max simultaneous connections, LeaseConnection returns an error.
func (auth *ConnectionsLimiter) LeaseConnection(request *http.Request) (release func(), err error) {
	key := fmt.Sprintf("ip-%v", auth.realIP.Extract(request))
	auth.mu.Lock()
	defer auth.mu.Unlock()

	if auth.connections[key] >= auth.max {
		return nil, fmt.Errorf("you have reached the limit of simultaneous connections: %v max", auth.max)
	}
	auth.connections[key] += 1

	return func() {
		auth.mu.Lock()
		defer auth.mu.Unlock()
		auth.connections[key] -= 1
		if auth.connections[key] == 0 {
			delete(auth.connections, key)
		}
	}, nil
}
