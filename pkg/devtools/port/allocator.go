// Package port hands out free TCP ports to legatusctl's dev command so two
// locally started services never race for the same listener.
package port

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
)

// Allocator tracks which service currently owns which port.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]string
}

// NewAllocator builds an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{reserved: make(map[int]string)}
}

// Reserve claims a port for name. preferred of 0 picks a random free port
// in the ephemeral dev range; a nonzero preferred is used as-is if free.
func (a *Allocator) Reserve(name string, preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if preferred > 0 {
		if owner, taken := a.reserved[preferred]; taken {
			if owner == name {
				return preferred, nil
			}
			return 0, fmt.Errorf("port %d already reserved by %s", preferred, owner)
		}
		if !isPortFree(preferred) {
			return 0, fmt.Errorf("port %d is already in use", preferred)
		}
		a.reserved[preferred] = name
		return preferred, nil
	}

	for i := 0; i < 50; i++ {
		candidate := 20000 + rand.Intn(25000)
		if _, taken := a.reserved[candidate]; taken {
			continue
		}
		if !isPortFree(candidate) {
			continue
		}
		a.reserved[candidate] = name
		return candidate, nil
	}
	return 0, fmt.Errorf("no available port found for %s after 50 attempts", name)
}

// Release frees name's reservation, if any.
func (a *Allocator) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port, owner := range a.reserved {
		if owner == name {
			delete(a.reserved, port)
		}
	}
}

// IsAvailable reports whether port is neither reserved nor bound.
func (a *Allocator) IsAvailable(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.reserved[port]; taken {
		return false
	}
	return isPortFree(port)
}

func isPortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
