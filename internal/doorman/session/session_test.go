package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/pkg/idx"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()

	s, err := m.New()
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())

	t.Run("invisible before save", func(t *testing.T) {
		_, ok := m.Load(s.ID())
		require.False(t, ok)
	})

	t.Run("visible after save", func(t *testing.T) {
		require.NoError(t, s.Save(context.Background()))
		got, ok := m.Load(s.ID())
		require.True(t, ok)
		require.Same(t, s, got)
	})

	t.Run("flush empties and removes", func(t *testing.T) {
		s.Set("k", "v")
		require.NoError(t, s.Flush(context.Background()))

		_, ok := m.Load(s.ID())
		require.False(t, ok)
		_, ok = s.Get("k")
		require.False(t, ok)
	})

	t.Run("distinct ids", func(t *testing.T) {
		a, err := m.New()
		require.NoError(t, err)
		b, err := m.New()
		require.NoError(t, err)
		require.NotEqual(t, a.ID(), b.ID())
	})
}

func TestSessionTake(t *testing.T) {
	m := NewManager()
	s, err := m.New()
	require.NoError(t, err)

	s.Set("k", 42)

	v, ok := s.Take("k")
	require.True(t, ok)
	require.Equal(t, 42, v)

	_, ok = s.Take("k")
	require.False(t, ok)
}

func TestPartialAuth(t *testing.T) {
	m := NewManager()
	now := time.Now()

	newSession := func(t *testing.T) *Session {
		s, err := m.New()
		require.NoError(t, err)
		return s
	}

	t.Run("absent", func(t *testing.T) {
		s := newSession(t)
		_, err := GetPartial(s, now)
		require.ErrorIs(t, err, ErrPartialAbsent)
	})

	t.Run("live marker round trips", func(t *testing.T) {
		s := newSession(t)
		local := idx.New()
		SetPartial(s, local, now)

		got, err := GetPartial(s, now.Add(PartialAuthTTL))
		require.NoError(t, err)
		require.Equal(t, local, got)
	})

	t.Run("reads do not refresh", func(t *testing.T) {
		s := newSession(t)
		SetPartial(s, idx.New(), now)

		_, err := GetPartial(s, now.Add(PartialAuthTTL-time.Second))
		require.NoError(t, err)

		_, err = GetPartial(s, now.Add(PartialAuthTTL+time.Second))
		require.ErrorIs(t, err, ErrPartialExpired)
	})

	t.Run("expired marker is removed", func(t *testing.T) {
		s := newSession(t)
		SetPartial(s, idx.New(), now)

		_, err := GetPartial(s, now.Add(PartialAuthTTL+time.Second))
		require.ErrorIs(t, err, ErrPartialExpired)

		_, err = GetPartial(s, now)
		require.ErrorIs(t, err, ErrPartialAbsent)
	})

	t.Run("clear", func(t *testing.T) {
		s := newSession(t)
		SetPartial(s, idx.New(), now)
		ClearPartial(s)

		_, err := GetPartial(s, now)
		require.ErrorIs(t, err, ErrPartialAbsent)
	})
}

func TestCeremonySingleUse(t *testing.T) {
	m := NewManager()
	s, err := m.New()
	require.NoError(t, err)

	local := idx.New()
	SetCeremony(s, Ceremony{Kind: CeremonyLogin, Attested: true, LocalUserID: local})

	c, ok := TakeCeremony(s)
	require.True(t, ok)
	require.Equal(t, CeremonyLogin, c.Kind)
	require.True(t, c.Attested)
	require.Equal(t, local, c.LocalUserID)

	_, ok = TakeCeremony(s)
	require.False(t, ok)
}

func TestUserMarker(t *testing.T) {
	m := NewManager()
	s, err := m.New()
	require.NoError(t, err)

	_, ok := UserID(s)
	require.False(t, ok)

	id := idx.New()
	SetUser(s, id)

	got, ok := UserID(s)
	require.True(t, ok)
	require.Equal(t, id, got)

	ClearUser(s)
	_, ok = UserID(s)
	require.False(t, ok)
}
