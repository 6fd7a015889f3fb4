package assistant

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"senteros-chat/internal/kv"
)

// Kind is a quota category
type Kind string

const (
	KindRequests    Kind = "requests"
	KindAttachments Kind = "attachments"
)

// DateKey formats a day as YYYY-M-D with an unpadded 1-based month and day
func DateKey(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

// Quota tracks per-day usage counters in the key-value store
type Quota struct {
	store  *kv.Store
	limits map[Kind]int
	now    func() time.Time
}

// NewQuota creates a quota with daily limits. A limit of 0 or less disables that kind's check.
func NewQuota(store *kv.Store, requestsPerDay, attachmentsPerDay int) *Quota {
	return &Quota{
		store: store,
		limits: map[Kind]int{
			KindRequests:    requestsPerDay,
			KindAttachments: attachmentsPerDay,
		},
		now: time.Now,
	}
}

// SetClock replaces the time source
func (q *Quota) SetClock(now func() time.Time) {
	q.now = now
}

// Limit returns the daily limit for kind
func (q *Quota) Limit(kind Kind) int {
	return q.limits[kind]
}

func (q *Quota) key(kind Kind) string {
	return "usage_" + string(kind) + "_" + DateKey(q.now())
}

// Count returns today's counter for kind
func (q *Quota) Count(owner string, kind Kind) (int, error) {
	v, ok, err := q.store.Get(owner, q.key(kind))
	if err != nil || !ok {
		return 0, err
	}
	return parseCount(v), nil
}

// Allow reports whether another call of kind fits under today's limit
func (q *Quota) Allow(owner string, kind Kind) (bool, error) {
	limit := q.limits[kind]
	if limit <= 0 {
		return true, nil
	}
	n, err := q.Count(owner, kind)
	if err != nil {
		return false, err
	}
	return n < limit, nil
}

// Increment adds one to today's counter for kind and returns the new value
func (q *Quota) Increment(owner string, kind Kind) (int, error) {
	var n int
	err := q.store.Update(owner, q.key(kind), func(old string, ok bool) (string, bool, error) {
		if ok {
			n = parseCount(old)
		}
		n++
		return strconv.Itoa(n), true, nil
	})
	return n, err
}

// Usage is today's state of both counters
type Usage struct {
	Date            string `json:"date"`
	Requests        int    `json:"requests"`
	RequestLimit    int    `json:"request_limit"`
	Attachments     int    `json:"attachments"`
	AttachmentLimit int    `json:"attachment_limit"`
}

// Usage reports today's counters for owner
func (q *Quota) Usage(owner string) (Usage, error) {
	requests, err := q.Count(owner, KindRequests)
	if err != nil {
		return Usage{}, err
	}
	attachments, err := q.Count(owner, KindAttachments)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		Date:            DateKey(q.now()),
		Requests:        requests,
		RequestLimit:    q.limits[KindRequests],
		Attachments:     attachments,
		AttachmentLimit: q.limits[KindAttachments],
	}, nil
}

// parseCount reads a stored counter; unreadable values count as zero
func parseCount(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Printf("[Assistant] Ignoring unreadable usage counter value=%q", v)
		return 0
	}
	return n
}
