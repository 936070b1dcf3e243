package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// IIdentityService supplies the anonymous, stable-for-session identity used
// to key presence records. No profile data exists behind it.
type IIdentityService interface {
	Current() string
}

const sessionIdentityKey = "session_identity"

type identityService struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewIdentityService creates the identity provider. The identity survives
// for the session TTL and a fresh anonymous one is minted after expiry.
func NewIdentityService(sessionTTL time.Duration) IIdentityService {
	return &identityService{
		cache: cache.New(sessionTTL, 10*time.Minute),
	}
}

func (s *identityService) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, found := s.cache.Get(sessionIdentityKey); found {
		return v.(string)
	}
	id := "anon_" + uuid.NewString()
	s.cache.Set(sessionIdentityKey, id, cache.DefaultExpiration)
	return id
}
