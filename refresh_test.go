package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-session/clock"
)

type coordinatorFixture struct {
	backend   *fakeBackend
	store     *Store
	coord     *Coordinator
	refreshed int32
	escalated int32
}

func newCoordinatorFixture(t *testing.T, maxAttempts int) *coordinatorFixture {
	t.Helper()

	f := &coordinatorFixture{
		backend: newFakeBackend(testSession("a", testEpoch.Add(10*time.Minute))),
		store:   NewStore(&captureLogger{}),
	}
	_, err := f.store.Apply(f.backend.session)
	require.NoError(t, err)

	f.coord = NewCoordinator(f.backend, f.store, clock.NewManual(testEpoch), maxAttempts,
		func(*Session) { atomic.AddInt32(&f.refreshed, 1) },
		func() { atomic.AddInt32(&f.escalated, 1) },
		&captureLogger{},
	)
	return f
}

func TestCoordinatorSuccessAppliesAndResetsAttempts(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.store.IncrementAttempts()
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		return testSession("b", testEpoch.Add(time.Hour)), nil
	}

	sess, err := f.coord.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "b", sess.AccessToken)
	assert.Equal(t, "b", f.store.Session().AccessToken)
	assert.Equal(t, 0, f.store.RefreshAttempts())
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refreshed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.escalated))
}

func TestCoordinatorExpiredRenewalEscalatesWithoutApply(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		return testSession("stale", testEpoch.Add(-time.Second)), nil
	}

	sess, err := f.coord.Refresh(context.Background(), false)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, "a", f.store.Session().AccessToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.refreshed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.escalated))
}

func TestCoordinatorDoesNotAnnounceSessionDroppedDuringApply(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.store.OnApply(func(sess *Session, changed bool, _ uint64) {
		if changed && sess != nil && sess.AccessToken == "b" {
			f.store.Clear()
		}
	})
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		return testSession("b", testEpoch.Add(time.Hour)), nil
	}

	sess, err := f.coord.Refresh(context.Background(), false)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, IsSessionAbsent(err))
	assert.Nil(t, f.store.Session())
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.refreshed))
}

func TestCoordinatorAnnouncesUnchangedRenewal(t *testing.T) {
	f := newCoordinatorFixture(t, 3)

	sess, err := f.coord.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "a", sess.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refreshed))
}

func TestCoordinatorSkipsRenewalAlreadyInstalledByNotification(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		renewed := testSession("b", testEpoch.Add(time.Hour))
		_, err := f.store.Apply(renewed)
		return renewed, err
	}

	sess, err := f.coord.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "b", sess.AccessToken)
	assert.Equal(t, "b", f.store.Session().AccessToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.refreshed))
}

func TestCoordinatorConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newCoordinatorFixture(t, 3)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		once.Do(func() { close(started) })
		<-release
		return testSession("b", testEpoch.Add(time.Hour)), nil
	}

	results := make(chan *Session, 5)
	go func() {
		sess, _ := f.coord.Refresh(context.Background(), false)
		results <- sess
	}()
	<-started
	require.True(t, f.coord.InFlight())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := f.coord.Refresh(context.Background(), false)
			assert.NoError(t, err)
			results <- sess
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < 5; i++ {
		sess := <-results
		require.NotNil(t, sess)
		assert.Equal(t, "b", sess.AccessToken)
	}

	_, refreshCalls, _ := f.backend.counts()
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, 1, f.backend.maxConcurrentRefresh())
	assert.False(t, f.coord.InFlight())
}

func TestCoordinatorForceWaitsThenIssuesFreshCall(t *testing.T) {
	f := newCoordinatorFixture(t, 3)

	var calls int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		n := atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		if n == 1 {
			<-release
			return testSession("first", testEpoch.Add(time.Hour)), nil
		}
		return testSession("second", testEpoch.Add(2*time.Hour)), nil
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = f.coord.Refresh(context.Background(), false)
	}()
	<-started

	forced := make(chan *Session, 1)
	go func() {
		sess, err := f.coord.Refresh(context.Background(), true)
		assert.NoError(t, err)
		forced <- sess
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
	<-firstDone

	sess := <-forced
	assert.Equal(t, "second", sess.AccessToken)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, f.backend.maxConcurrentRefresh())
}

func TestCoordinatorExhaustedAttemptsEscalateWithoutCall(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	for i := 0; i < 3; i++ {
		f.store.IncrementAttempts()
	}

	_, err := f.coord.Refresh(context.Background(), false)
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, TextCodeSessionExpired, rich.TextCode)

	_, refreshCalls, _ := f.backend.counts()
	assert.Equal(t, 0, refreshCalls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.escalated))
}

func TestCoordinatorInvalidCredentialEscalatesImmediately(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		return nil, goerrors.Wrap(errors.New("refresh token revoked"), goerrors.CategoryAuth, "refresh rejected").
			WithTextCode(TextCodeInvalidCredential)
	}

	_, err := f.coord.Refresh(context.Background(), false)
	require.Error(t, err)
	assert.True(t, IsInvalidCredential(err))
	assert.Equal(t, 1, f.store.RefreshAttempts())
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.escalated))
}

func TestCoordinatorMissingSessionEscalates(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		return nil, nil
	}

	_, err := f.coord.Refresh(context.Background(), false)
	assert.True(t, IsSessionAbsent(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.escalated))
}

func TestCoordinatorTransientFailuresRetryUntilBudget(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		return nil, errors.New("connection reset")
	}

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := f.coord.Refresh(context.Background(), false)
		require.Error(t, err)
		assert.True(t, IsTransient(err))

		var rich *goerrors.Error
		require.True(t, goerrors.As(err, &rich))
		assert.Equal(t, TextCodeBackendUnreachable, rich.TextCode)
		assert.Equal(t, attempt, f.store.RefreshAttempts())
		assert.Equal(t, int32(0), atomic.LoadInt32(&f.escalated))
	}

	_, err := f.coord.Refresh(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.escalated))
	assert.Equal(t, "a", f.store.Session().AccessToken)
}

func TestCoordinatorDiscardsResultAfterInvalidate(t *testing.T) {
	f := newCoordinatorFixture(t, 3)

	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		close(started)
		<-release
		return testSession("late", testEpoch.Add(time.Hour)), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Refresh(context.Background(), false)
		done <- err
	}()

	<-started
	f.coord.Invalidate()
	f.store.Clear()
	close(release)

	err := <-done
	assert.True(t, IsSessionAbsent(err))
	assert.Nil(t, f.store.Session())
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.refreshed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.escalated))
}

func TestCoordinatorRecoversPanickingBackend(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	f.backend.refreshFn = func(context.Context) (*Session, error) {
		panic("driver exploded")
	}

	require.NotPanics(t, func() {
		_, err := f.coord.Refresh(context.Background(), false)
		assert.True(t, IsTransient(err))
	})
	assert.False(t, f.coord.InFlight())
}
