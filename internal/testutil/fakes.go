// Package testutil provides in-memory stand-ins for the stores, media host
// and mailer used by service and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quill-blog/apiserver/internal/store"
	"github.com/quill-blog/apiserver/types"
)

// UserStore mirrors store.UserRepository in memory.
type UserStore struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User

	// Err, when set, is returned by every method.
	Err error
	// AdjustErr, when set, is returned by AdjustPostCount only.
	AdjustErr error
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[int]types.User)}
}

func (s *UserStore) GetByID(_ context.Context, id int) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	user, ok := s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	email = store.NormalizeEmail(email)
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (s *UserStore) List(_ context.Context) ([]types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	users := make([]types.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *UserStore) Create(_ context.Context, user types.User) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	user.Email = store.NormalizeEmail(user.Email)
	if s.emailTaken(user.Email, 0) {
		return types.User{}, store.ErrConflict
	}
	s.nextID++
	now := time.Now()
	user.ID = s.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	return user, nil
}

func (s *UserStore) Update(_ context.Context, user types.User) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	current, ok := s.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	user.Email = store.NormalizeEmail(user.Email)
	if s.emailTaken(user.Email, user.ID) {
		return types.User{}, store.ErrConflict
	}
	user.PostCount = current.PostCount
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now()
	s.users[user.ID] = user
	return user, nil
}

func (s *UserStore) AdjustPostCount(_ context.Context, id int, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.AdjustErr != nil {
		return s.AdjustErr
	}
	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PostCount += delta
	s.users[id] = user
	return nil
}

// Put stores user as-is, assigning an id when it has none.
func (s *UserStore) Put(user types.User) types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		s.nextID++
		user.ID = s.nextID
	} else if user.ID > s.nextID {
		s.nextID = user.ID
	}
	user.Email = store.NormalizeEmail(user.Email)
	s.users[user.ID] = user
	return user
}

func (s *UserStore) emailTaken(email string, exceptID int) bool {
	for id, user := range s.users {
		if id != exceptID && user.Email == email {
			return true
		}
	}
	return false
}

// PostStore mirrors store.PostRepository in memory.
type PostStore struct {
	mu     sync.Mutex
	nextID int
	posts  map[int]types.Post
	clock  time.Time

	// Err, when set, is returned by every method.
	Err error
}

func NewPostStore() *PostStore {
	return &PostStore{
		posts: make(map[int]types.Post),
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing timestamps so ordering is deterministic.
func (s *PostStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *PostStore) List(_ context.Context) ([]types.Post, error) {
	return s.filter(func(types.Post) bool { return true }, func(a, b types.Post) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}

func (s *PostStore) ListByCategory(_ context.Context, category types.Category) ([]types.Post, error) {
	return s.filter(func(p types.Post) bool { return p.Category == category }, newestFirst)
}

func (s *PostStore) ListByCreator(_ context.Context, creatorID int) ([]types.Post, error) {
	return s.filter(func(p types.Post) bool { return p.CreatorID == creatorID }, newestFirst)
}

func (s *PostStore) Get(_ context.Context, id int) (types.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Post{}, s.Err
	}
	post, ok := s.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return post, nil
}

func (s *PostStore) Create(_ context.Context, post types.Post) (types.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Post{}, s.Err
	}
	s.nextID++
	now := s.tick()
	post.ID = s.nextID
	post.CreatedAt = now
	post.UpdatedAt = now
	s.posts[post.ID] = post
	return post, nil
}

func (s *PostStore) Update(_ context.Context, post types.Post) (types.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Post{}, s.Err
	}
	current, ok := s.posts[post.ID]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	post.CreatorID = current.CreatorID
	post.CreatedAt = current.CreatedAt
	post.UpdatedAt = s.tick()
	s.posts[post.ID] = post
	return post, nil
}

func (s *PostStore) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

func (s *PostStore) CountByCreators(_ context.Context) (map[int]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	counts := make(map[int]int)
	for _, post := range s.posts {
		counts[post.CreatorID]++
	}
	return counts, nil
}

func (s *PostStore) filter(keep func(types.Post) bool, less func(a, b types.Post) bool) ([]types.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	posts := make([]types.Post, 0)
	for _, post := range s.posts {
		if keep(post) {
			posts = append(posts, post)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return less(posts[i], posts[j]) })
	return posts, nil
}

func newestFirst(a, b types.Post) bool {
	return a.CreatedAt.After(b.CreatedAt)
}

// MediaHost records uploads and deletes.
type MediaHost struct {
	mu      sync.Mutex
	next    int
	Uploads [][]byte
	Deleted []string

	UploadErr error
	DeleteErr error
}

func (m *MediaHost) Upload(_ context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	m.next++
	m.Uploads = append(m.Uploads, data)
	return fmt.Sprintf("https://media.test/quill/%d.jpg", m.next), nil
}

func (m *MediaHost) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.Deleted = append(m.Deleted, url)
	return nil
}

// Calls reports how many uploads and deletes were made.
func (m *MediaHost) Calls() (uploads, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Uploads), len(m.Deleted)
}

// SentMail is one message captured by Mailer.
type SentMail struct {
	Kind  string
	To    string
	Token string
}

// Mailer captures verification and reset emails.
type Mailer struct {
	mu   sync.Mutex
	Sent []SentMail
	Err  error
}

func (m *Mailer) SendVerification(_ context.Context, to, token string) error {
	return m.record("verify", to, token)
}

func (m *Mailer) SendPasswordReset(_ context.Context, to, token string) error {
	return m.record("reset", to, token)
}

// Last returns the most recent message.
func (m *Mailer) Last() (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentMail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

func (m *Mailer) record(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMail{Kind: kind, To: to, Token: token})
	return nil
}
