package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a monotonic ULID. Used for audit event ids and simulated
// broker order ids, both of which are indexed and sorted by time.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return u.String()
}

// Sequence hands out local order ids of the form PREFIX-001. The counter only
// advances when the caller's submission succeeds, so rejected orders do not
// leave gaps.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix, next: 1}
}

// Format renders n with the sequence prefix.
func (s *Sequence) Format(n int) string {
	return fmt.Sprintf("%s-%03d", s.prefix, n)
}

// Peek returns the id the next successful Allocate will use.
func (s *Sequence) Peek() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Format(s.next)
}

// Allocate calls fn with the next id and commits it only if fn returns nil.
// fn runs under the sequence lock, so concurrent allocations are serialized.
func (s *Sequence) Allocate(fn func(localID string) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localID := s.Format(s.next)
	if err := fn(localID); err != nil {
		return "", err
	}
	s.next++
	return localID, nil
}

// SeedFrom moves the counter past the largest numeric suffix among ids that
// carry this sequence's prefix. Other ids are ignored.
func (s *Sequence) SeedFrom(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range ids {
		n, ok := s.parse(v)
		if ok && n >= s.next {
			s.next = n + 1
		}
	}
}

func (s *Sequence) parse(v string) (int, bool) {
	rest, ok := strings.CutPrefix(v, s.prefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
