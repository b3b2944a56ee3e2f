package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/services"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

func TestCachedDirectoryCachesPositiveAndNegativeAnswers(t *testing.T) {
	var calls atomic.Int32
	source := services.UserDirectoryFunc(func(_ context.Context, userID int64) (bool, error) {
		calls.Add(1)
		return userID == 1, nil
	})
	store := newMemoryStore()
	dir, err := NewCachedDirectory(source, store, 10*time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}

	for i := 0; i < 3; i++ {
		if ok, err := dir.UserExists(context.Background(), 1); err != nil || !ok {
			t.Fatalf("expected user 1 to exist, got %v %v", ok, err)
		}
		if ok, err := dir.UserExists(context.Background(), 2); err != nil || ok {
			t.Fatalf("expected user 2 to be missing, got %v %v", ok, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 source lookups, got %d", calls.Load())
	}
	if store.ttls[cacheKeyPrefix+"1"] != 10*time.Minute || store.ttls[cacheKeyPrefix+"2"] != 30*time.Second {
		t.Fatalf("unexpected ttls %v", store.ttls)
	}
}

func TestCachedDirectoryCollapsesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	source := services.UserDirectoryFunc(func(context.Context, int64) (bool, error) {
		calls.Add(1)
		<-release
		return true, nil
	})
	dir, err := NewCachedDirectory(source, newMemoryStore(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := dir.UserExists(context.Background(), 7); err != nil || !ok {
				t.Errorf("UserExists: %v %v", ok, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() > 2 {
		t.Fatalf("expected concurrent misses to share lookups, got %d", calls.Load())
	}
}

func TestCachedDirectoryFallsThroughOnCacheError(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("redis down")
	source := services.UserDirectoryFunc(func(context.Context, int64) (bool, error) { return true, nil })
	dir, err := NewCachedDirectory(source, store, 0, nil)
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}
	if ok, err := dir.UserExists(context.Background(), 3); err != nil || !ok {
		t.Fatalf("expected source answer, got %v %v", ok, err)
	}
}

func TestCachedDirectoryPropagatesSourceError(t *testing.T) {
	sentinel := errors.New("store unavailable")
	source := services.UserDirectoryFunc(func(context.Context, int64) (bool, error) { return false, sentinel })
	dir, err := NewCachedDirectory(source, newMemoryStore(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCachedDirectory: %v", err)
	}
	if _, err := dir.UserExists(context.Background(), 3); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}

type stubUserGetter struct {
	fn func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

func (s stubUserGetter) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	return s.fn(ctx, uid)
}

func TestFirebaseDirectoryUserExists(t *testing.T) {
	dir := &FirebaseDirectory{
		timeout: time.Second,
		client: stubUserGetter{fn: func(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
			switch uid {
			case "1":
				return &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: uid}}, nil
			case "2":
				return &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: uid}, Disabled: true}, nil
			default:
				return nil, errors.New("transport failure")
			}
		}},
	}

	if ok, err := dir.UserExists(context.Background(), 1); err != nil || !ok {
		t.Fatalf("expected user 1, got %v %v", ok, err)
	}
	if ok, err := dir.UserExists(context.Background(), 2); err != nil || ok {
		t.Fatalf("expected disabled user 2 to be missing, got %v %v", ok, err)
	}
	if ok, err := dir.UserExists(context.Background(), 0); err != nil || ok {
		t.Fatalf("expected non-positive id to be missing, got %v %v", ok, err)
	}
	if _, err := dir.UserExists(context.Background(), 3); err == nil {
		t.Fatal("expected transport error")
	}
}
