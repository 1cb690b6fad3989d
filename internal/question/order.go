package question

import (
	"crypto/hmac"
	"crypto/sha256"
)

const (
	headCount = GateCount
	tailCount = 2
)

// Orderer derives a deterministic, user-specific permutation of the question
// indices. The same email hash always yields the same order, so a session
// resumed after token loss still presents questions in the same sequence.
type Orderer struct {
	salt []byte
}

func NewOrderer(salt []byte) *Orderer {
	return &Orderer{salt: salt}
}

// BuildOrder returns a permutation of {0..Total-1}. The gate indices stay at
// the front and the reserved closing indices stay at the end; everything in
// between is shuffled by a keyed byte stream derived from the email hash.
func (o *Orderer) BuildOrder(emailHash string) []int {
	return o.buildOrder(emailHash, Total)
}

// buildOrder permutes {0..total-1}. When fewer than the full set of middle
// candidates is available, only the available subset is shuffled; the result
// has no gaps and no duplicates.
func (o *Orderer) buildOrder(emailHash string, total int) []int {
	order := make([]int, total)
	for i := range order {
		order[i] = i
	}

	head := headCount
	if head > total {
		head = total
	}
	tail := tailCount
	if head+tail > total {
		tail = total - head
	}

	middle := order[head : total-tail]
	if len(middle) < 2 {
		return order
	}

	stream := newKeyedStream(o.salt, emailHash)
	for i := len(middle) - 1; i > 0; i-- {
		j := int(stream.next() % uint16(i+1))
		middle[i], middle[j] = middle[j], middle[i]
	}
	return order
}

// keyedStream yields uint16 values from successive HMAC-SHA256 blocks of
// (emailHash || counter), two bytes at a time.
type keyedStream struct {
	salt      []byte
	emailHash string
	counter   byte
	buf       []byte
	off       int
}

func newKeyedStream(salt []byte, emailHash string) *keyedStream {
	s := &keyedStream{salt: salt, emailHash: emailHash}
	s.refill()
	return s
}

func (s *keyedStream) refill() {
	mac := hmac.New(sha256.New, s.salt)
	mac.Write([]byte(s.emailHash))
	mac.Write([]byte{s.counter})
	s.buf = mac.Sum(nil)
	s.off = 0
	s.counter++
}

func (s *keyedStream) next() uint16 {
	if s.off+2 > len(s.buf) {
		s.refill()
	}
	v := uint16(s.buf[s.off])<<8 | uint16(s.buf[s.off+1])
	s.off += 2
	return v
}
