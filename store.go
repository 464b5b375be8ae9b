package tokutei

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tokutei-learning/tokutei/access"
	"github.com/tokutei-learning/tokutei/auth"
	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal/audit"
	"github.com/tokutei-learning/tokutei/session"
)

// Store is the auth state of one browser client. All methods are safe for
// concurrent use.
//
// Actions are sequenced: each one takes the next request id when it starts,
// and its outcome is applied only if no later action was started meanwhile.
type Store struct {
	id        string
	client    *auth.Client
	persister session.Persister
	metrics   *Metrics
	audit     *audit.Dispatcher
	logger    *slog.Logger
	now       func() time.Time
	subBuffer int

	check singleflight.Group

	mu       sync.Mutex
	state    State
	seq      uint64
	checked  bool
	closed   bool
	lastUsed time.Time
	subs     map[int]chan State
	nextSub  int
	// version orders snapshot writes; see persist.
	version uint64

	persistMu sync.Mutex
	written   uint64

	stopAuthEvents func()
}

type storeDeps struct {
	client    *auth.Client
	persister session.Persister
	metrics   *Metrics
	audit     *audit.Dispatcher
	logger    *slog.Logger
	now       func() time.Time
	subBuffer int
}

func newStore(clientID string, d storeDeps, restored *session.Snapshot) *Store {
	if d.now == nil {
		d.now = time.Now
	}
	if d.subBuffer < 1 {
		d.subBuffer = 1
	}
	s := &Store{
		id:        clientID,
		client:    d.client,
		persister: d.persister,
		metrics:   d.metrics,
		audit:     d.audit,
		logger:    d.logger.With("client_id", clientID),
		now:       d.now,
		subBuffer: d.subBuffer,
		subs:      make(map[int]chan State),
	}
	s.lastUsed = s.now()
	if restored != nil && restored.IsAuthenticated && restored.User != nil {
		s.state = State{
			User:            restored.User.Clone(),
			Profile:         restored.Profile.Clone(),
			IsAuthenticated: true,
		}
	}
	s.stopAuthEvents = s.client.OnAuthStateChange(s.onAuthEvent)
	return s
}

// ID returns the client id the store belongs to.
func (s *Store) ID() string {
	return s.id
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) Phase() Phase {
	return s.State().Phase()
}

// Access returns the role helper bound to the current state.
func (s *Store) Access() access.Checker {
	return s.State().Access()
}

// Checked reports whether a session check has completed for this store.
func (s *Store) Checked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checked
}

// Login signs in with email and password. The returned error is the one
// also recorded in the state, except ErrSuperseded: the sign-in succeeded
// but a newer action on the store owns the state.
func (s *Store) Login(ctx context.Context, email, password string) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	start := s.now()
	res, err := s.client.Login(ctx, email, password)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.metrics.Inc(MetricLoginFailure)
		s.emit(ctx, audit.ActionLogin, "", ae, map[string]string{"email": email})
		return ae
	}
	applied := s.finish(ctx, id, func(st *State) {
		st.User = res.User
		st.Profile = res.Profile
	})
	if applied {
		s.markChecked()
	}
	s.metrics.Inc(MetricLoginSuccess)
	s.emit(ctx, audit.ActionLogin, res.User.ID, nil, nil)
	return s.droppedErr(applied)
}

// Signup registers an account. When email confirmation is pending, the
// recorded and returned error has Kind auth.KindConfirmationRequired and the
// store stays unauthenticated. ErrSuperseded is returned as for Login.
func (s *Store) Signup(ctx context.Context, req auth.SignupRequest) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	start := s.now()
	res, err := s.client.Signup(ctx, req)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		if ae.Kind == auth.KindConfirmationRequired {
			s.metrics.Inc(MetricSignupConfirmationRequired)
		} else {
			s.metrics.Inc(MetricSignupFailure)
		}
		s.emit(ctx, audit.ActionSignup, "", ae, map[string]string{"role": string(req.Role)})
		return ae
	}
	applied := s.finish(ctx, id, func(st *State) {
		st.User = res.User
		st.Profile = res.Profile
	})
	if applied {
		s.markChecked()
	}
	s.metrics.Inc(MetricSignupSuccess)
	s.emit(ctx, audit.ActionSignup, res.User.ID, nil, map[string]string{"role": string(req.Role)})
	return s.droppedErr(applied)
}

// Logout signs out and resets the store to the anonymous initial state. The
// reset happens even when the backend call fails; that error is recorded.
func (s *Store) Logout(ctx context.Context) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	userID := s.userID()
	start := s.now()
	err = s.client.Logout(ctx)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))

	var ae *auth.Error
	if err != nil {
		ae = asAuthError(err)
		s.metrics.Inc(MetricLogoutFailure)
	} else {
		s.metrics.Inc(MetricLogout)
	}
	s.finish(ctx, id, func(st *State) { *st = State{Error: ae} })
	s.emit(ctx, audit.ActionLogout, userID, ae, nil)
	if ae != nil {
		return ae
	}
	return nil
}

// ResetPassword requests a password reset email.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	start := s.now()
	err = s.client.ResetPassword(ctx, email)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.emit(ctx, audit.ActionPasswordReset, "", ae, nil)
		return ae
	}
	s.finish(ctx, id, func(*State) {})
	s.metrics.Inc(MetricPasswordResetRequest)
	s.emit(ctx, audit.ActionPasswordReset, "", nil, nil)
	return nil
}

// UpdatePassword sets a new password for the signed-in user.
func (s *Store) UpdatePassword(ctx context.Context, newPassword string) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	start := s.now()
	user, err := s.client.UpdatePassword(ctx, newPassword)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.emit(ctx, audit.ActionPasswordUpdate, s.userID(), ae, nil)
		return ae
	}
	s.finish(ctx, id, func(st *State) {
		if st.User != nil {
			st.User = user
		}
	})
	s.metrics.Inc(MetricPasswordUpdate)
	s.emit(ctx, audit.ActionPasswordUpdate, user.ID, nil, nil)
	return nil
}

// UpdateProfile patches the signed-in user's profile. Without a user it
// records a not-authenticated error and makes no backend call.
func (s *Store) UpdateProfile(ctx context.Context, update backend.ProfileUpdate) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	userID := s.userID()
	if userID == "" {
		ae := auth.NotAuthenticated()
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.metrics.Inc(MetricProfileUpdateFailure)
		return ae
	}

	start := s.now()
	p, err := s.client.UpdateProfile(ctx, userID, update)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.metrics.Inc(MetricProfileUpdateFailure)
		s.emit(ctx, audit.ActionProfileUpdate, userID, ae, nil)
		return ae
	}
	s.finish(ctx, id, func(st *State) {
		if st.User != nil && st.User.ID == p.ID {
			st.Profile = p
		}
	})
	s.metrics.Inc(MetricProfileUpdateSuccess)
	s.emit(ctx, audit.ActionProfileUpdate, userID, nil, nil)
	return nil
}

// VerifyEmail redeems an emailed confirmation link and signs the user in.
// ErrSuperseded is returned as for Login.
func (s *Store) VerifyEmail(ctx context.Context, tokenHash string, typ backend.OTPType) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	start := s.now()
	res, err := s.client.VerifyEmail(ctx, tokenHash, typ)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.metrics.Inc(MetricEmailVerificationFailure)
		s.emit(ctx, audit.ActionEmailVerify, "", ae, nil)
		return ae
	}
	applied := s.finish(ctx, id, func(st *State) {
		st.User = res.User
		st.Profile = res.Profile
	})
	if applied {
		s.markChecked()
	}
	s.metrics.Inc(MetricEmailVerificationSuccess)
	s.emit(ctx, audit.ActionEmailVerify, res.User.ID, nil, nil)
	return s.droppedErr(applied)
}

// CheckSession asks the backend who the current session belongs to and
// reconciles the state with the answer. Concurrent calls share one backend
// round trip. A session the backend rejects downgrades the store to
// anonymous and is not an error; a failure to reach the backend is recorded
// and returned with the previous user kept.
func (s *Store) CheckSession(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	ch := s.check.DoChan("check", func() (any, error) {
		return nil, s.checkSession(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureChecked runs CheckSession unless one already completed.
func (s *Store) EnsureChecked(ctx context.Context) error {
	if s.Checked() {
		return nil
	}
	return s.CheckSession(ctx)
}

func (s *Store) checkSession(ctx context.Context) error {
	id, err := s.begin()
	if err != nil {
		return err
	}
	start := s.now()
	res, err := s.client.GetCurrentUser(ctx)
	s.metrics.Observe(MetricBackendLatency, s.now().Sub(start))
	if err != nil {
		ae := asAuthError(err)
		if ae.Kind == auth.KindNotAuthenticated {
			if s.finish(ctx, id, func(st *State) { *st = State{} }) {
				s.markChecked()
			}
			s.metrics.Inc(MetricSessionCheckInvalid)
			s.emit(ctx, audit.ActionSessionCheck, "", ae, nil)
			return nil
		}
		s.finish(ctx, id, func(st *State) { st.Error = ae })
		s.metrics.Inc(MetricSessionCheckError)
		s.logger.Warn("session check failed", "error", err)
		return ae
	}
	if s.finish(ctx, id, func(st *State) {
		st.User = res.User
		st.Profile = res.Profile
	}) {
		s.markChecked()
	}
	s.metrics.Inc(MetricSessionCheckValid)
	s.emit(ctx, audit.ActionSessionCheck, res.User.ID, nil, nil)
	return nil
}

// ClearError drops the recorded error.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Error == nil {
		return
	}
	s.state.Error = nil
	s.publishLocked()
}

// Reset clears the state without signing out of the backend. In-flight
// actions are discarded and the next EnsureChecked checks again.
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.checked = false
	s.state = State{}
	s.publishLocked()
	v, snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(ctx, v, snap)
}

// Subscribe returns a channel that receives every state change. When the
// subscriber falls behind, older undelivered states are replaced by newer
// ones. buffer < 1 uses the engine default. cancel closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = s.subBuffer
	}
	ch := make(chan State, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close detaches the store: actions fail with ErrStoreClosed and every
// subscription channel is closed. The persisted snapshot is kept.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	s.stopAuthEvents()
}

func (s *Store) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	s.seq++
	s.lastUsed = s.now()
	s.state.IsLoading = true
	s.state.Error = nil
	s.publishLocked()
	return s.seq, nil
}

// finish applies mutate when id is still the latest request and reports
// whether it did.
func (s *Store) finish(ctx context.Context, id uint64, mutate func(*State)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if id != s.seq {
		s.mu.Unlock()
		s.metrics.Inc(MetricStaleResponseDropped)
		s.logger.Debug("stale response dropped", "request", id)
		return false
	}
	mutate(&s.state)
	s.state.IsLoading = false
	s.state.IsAuthenticated = s.state.User != nil
	if !s.state.IsAuthenticated {
		s.state.Profile = nil
	}
	s.lastUsed = s.now()
	s.publishLocked()
	v, snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, v, snap)
	return true
}

// droppedErr explains why finish did not apply a successful result.
func (s *Store) droppedErr(applied bool) error {
	switch {
	case applied:
		return nil
	case s.isClosed():
		return ErrStoreClosed
	default:
		return ErrSuperseded
	}
}

func (s *Store) publishLocked() {
	st := s.state.Clone()
	for _, ch := range s.subs {
		offerLatest(ch, st)
	}
}

// offerLatest sends st, evicting the oldest queued state while ch is full.
// Callers hold s.mu, so there is only ever one sender per channel.
func offerLatest(ch chan State, st State) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// snapshotLocked returns the next write version and the snapshot to store,
// or nil when the state is anonymous.
func (s *Store) snapshotLocked() (uint64, *session.Snapshot) {
	s.version++
	if !s.state.IsAuthenticated {
		return s.version, nil
	}
	snap := &session.Snapshot{
		User:            s.state.User.Clone(),
		Profile:         s.state.Profile.Clone(),
		IsAuthenticated: true,
		SavedAt:         s.now().UTC(),
	}
	if as := s.client.Session(); as != nil {
		snap.AccessToken = as.AccessToken
		snap.RefreshToken = as.RefreshToken
		snap.ExpiresAt = as.ExpiresAt
	}
	return s.version, snap
}

// persist writes snap, or deletes the stored snapshot when snap is nil.
// Writes older than the last one written are skipped. Failures are logged
// and counted only.
func (s *Store) persist(ctx context.Context, version uint64, snap *session.Snapshot) {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.written {
		return
	}
	s.written = version

	ctx = context.WithoutCancel(ctx)
	var err error
	if snap == nil {
		err = s.persister.Delete(ctx, s.id)
	} else {
		err = s.persister.Save(ctx, s.id, snap)
	}
	if err != nil {
		s.metrics.Inc(MetricSnapshotPersistFailure)
		s.logger.Warn("snapshot persist failed", "error", err)
	}
}

// onAuthEvent keeps the persisted tokens current when the client refreshes
// its session in the background of an action.
func (s *Store) onAuthEvent(event auth.Event, _ *backend.AuthSession) {
	if event != auth.EventTokenRefreshed {
		return
	}
	s.mu.Lock()
	if s.closed || !s.state.IsAuthenticated {
		s.mu.Unlock()
		return
	}
	v, snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(context.Background(), v, snap)
}

func (s *Store) markChecked() {
	s.mu.Lock()
	s.checked = true
	s.mu.Unlock()
}

func (s *Store) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return ""
	}
	return s.state.User.ID
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Store) emit(ctx context.Context, action audit.Action, userID string, ae *auth.Error, meta map[string]string) {
	if s.audit == nil {
		return
	}
	ev := audit.Event{
		Action:    action,
		ClientID:  s.id,
		RequestID: RequestIDFromContext(ctx),
		UserID:    userID,
		IP:        ClientIPFromContext(ctx),
		Success:   ae == nil || !ae.Fatal(),
		Metadata:  meta,
	}
	if ae != nil {
		ev.ErrorKind = ae.Type()
	}
	if email, ok := meta["email"]; ok {
		ev.Email = email
		delete(meta, "email")
		if len(meta) == 0 {
			ev.Metadata = nil
		}
	}
	s.audit.Emit(ctx, ev)
}

func asAuthError(err error) *auth.Error {
	if ae, ok := auth.AsError(err); ok {
		return ae
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &auth.Error{Kind: auth.KindTransport, Message: err.Error()}
	}
	return &auth.Error{Kind: auth.KindUnknown, Message: err.Error()}
}
