package host

import (
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Enqueue after the mailbox was disposed.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a thread-safe FIFO queue of Jobs for one execution key.
//
// Mailbox only queues. Exclusive draining is the Runner's job.
type Mailbox struct {
	key    string
	mu     sync.Mutex
	jobs   []Job
	closed bool
}

// NewMailbox creates an empty mailbox for key.
func NewMailbox(key string) *Mailbox {
	return &Mailbox{
		key:  key,
		jobs: make([]Job, 0, 8),
	}
}

// Key returns the execution key.
func (m *Mailbox) Key() string {
	return m.key
}

// Enqueue appends job. wasEmpty reports the empty to non-empty transition,
// which the caller turns into a runner kick.
func (m *Mailbox) Enqueue(job Job) (wasEmpty bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrMailboxClosed
	}
	wasEmpty = len(m.jobs) == 0
	m.jobs = append(m.jobs, job)
	return wasEmpty, nil
}

// Dequeue removes and returns the head job.
func (m *Mailbox) Dequeue() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) == 0 {
		return Job{}, false
	}
	job := m.jobs[0]
	// Drop the slot so the backing array does not pin patches and intents.
	m.jobs[0] = Job{}
	if len(m.jobs) == 1 {
		m.jobs = m.jobs[:0]
	} else {
		m.jobs = m.jobs[1:]
	}
	return job, true
}

// Peek returns the head job without removing it.
func (m *Mailbox) Peek() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) == 0 {
		return Job{}, false
	}
	return m.jobs[0], true
}

// IsEmpty reports whether no jobs are queued.
func (m *Mailbox) IsEmpty() bool {
	return m.Len() == 0
}

// Len returns the number of queued jobs.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Clear discards every queued job and returns how many were dropped.
func (m *Mailbox) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.jobs)
	clear(m.jobs)
	m.jobs = m.jobs[:0]
	return n
}

// Close clears the mailbox and rejects further enqueues.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	clear(m.jobs)
	m.jobs = nil
}

// MailboxManager owns the mailboxes of one Host.
type MailboxManager struct {
	mu        sync.Mutex
	mailboxes map[string]*Mailbox
}

// NewMailboxManager creates an empty manager.
func NewMailboxManager() *MailboxManager {
	return &MailboxManager{mailboxes: make(map[string]*Mailbox)}
}

// GetOrCreate returns the mailbox for key, creating it on first use.
func (mm *MailboxManager) GetOrCreate(key string) *Mailbox {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mb, ok := mm.mailboxes[key]; ok {
		return mb
	}
	mb := NewMailbox(key)
	mm.mailboxes[key] = mb
	return mb
}

// Get returns the mailbox for key, if one exists.
func (mm *MailboxManager) Get(key string) (*Mailbox, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mb, ok := mm.mailboxes[key]
	return mb, ok
}

// Delete closes and forgets the mailbox for key.
func (mm *MailboxManager) Delete(key string) {
	mm.mu.Lock()
	mb, ok := mm.mailboxes[key]
	delete(mm.mailboxes, key)
	mm.mu.Unlock()

	if ok {
		mb.Close()
	}
}

// Len returns the number of live mailboxes.
func (mm *MailboxManager) Len() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.mailboxes)
}
