package eligibility

import (
	"errors"
	"sync/atomic"
	"time"
)

// Source records where the active rule came from.
type Source string

const (
	SourceUnknown Source = ""
	SourceStatic  Source = "static"
	SourceFile    Source = "file"
	SourceSSM     Source = "ssm"
)

// Snapshot is one loaded rule and its provenance.
type Snapshot struct {
	Rule     *Rule
	Source   Source
	LoadedAt time.Time
}

var ErrNoRule = errors.New("eligibility: no rule loaded")

// Manager holds the active Snapshot. Readers never lock; Set replaces the
// whole snapshot.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set installs rule as the active rule.
func (m *Manager) Set(rule *Rule, src Source) {
	m.active.Store(&Snapshot{Rule: rule, Source: src, LoadedAt: time.Now().UTC()})
}

// Get returns the active snapshot.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.Rule != nil
}

// Matches checks path against the active rule. Nothing matches before the
// first Set.
func (m *Manager) Matches(path string) bool {
	s := m.active.Load()
	if s == nil {
		return false
	}
	return s.Rule.Matches(path)
}

// Hash returns the active rule hash, or "" before the first Set.
func (m *Manager) Hash() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return s.Rule.Hash()
}

// ReadyErr is the readiness check for the eligibility layer.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return ErrNoRule
	}
	return nil
}
