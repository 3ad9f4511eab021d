package casino

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// GridSize is the number of cells of the 5x5 board.
	GridSize = 25
	GridSide = 5
)

// DefaultMinesBase is the per safe step growth when nothing is configured.
var (
	DefaultMinesBase = decimal.RequireFromString("1.20")
	minMinesBase     = decimal.RequireFromString("1.01")
)

type MinesState string

const (
	MinesActive MinesState = "active"
	MinesWon    MinesState = "won"
	MinesLost   MinesState = "lost"
)

// MinesSession is one board of a user.
type MinesSession struct {
	ID                string          `json:"id"`
	UserID            int64           `json:"userId"`
	Stake             decimal.Decimal `json:"stake"`
	BaseMultiplier    decimal.Decimal `json:"baseMultiplier"`
	MineCount         int             `json:"mineCount"`
	MinePositions     []int           `json:"minePositions"`
	Revealed          map[int]int     `json:"revealed"`
	SafeSteps         int             `json:"safeSteps"`
	CurrentMultiplier decimal.Decimal `json:"currentMultiplier"`
	CurrentPayout     decimal.Decimal `json:"currentPayout"`
	State             MinesState      `json:"state"`
	HitCell           int             `json:"hitCell"`
	StartedAt         time.Time       `json:"startedAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (s *MinesSession) IsActive() bool { return s != nil && s.State == MinesActive }

func (s *MinesSession) IsMine(cell int) bool {
	_, ok := slices.BinarySearch(s.MinePositions, cell)
	return ok
}

func (s *MinesSession) IsRevealed(cell int) bool {
	_, ok := s.Revealed[cell]
	return ok
}

// SafeCells is the number of cells without a mine.
func (s *MinesSession) SafeCells() int { return GridSize - s.MineCount }

// Clone returns a deep copy.
func (s *MinesSession) Clone() *MinesSession {
	if s == nil {
		return nil
	}
	c := *s
	c.MinePositions = slices.Clone(s.MinePositions)
	c.Revealed = maps.Clone(s.Revealed)
	if c.Revealed == nil {
		c.Revealed = map[int]int{}
	}
	return &c
}

// moveMine relocates one mine so that cell matches isMine while keeping
// exactly MineCount mines on unrevealed cells.
func (s *MinesSession) moveMine(cell int, isMine bool, rnd Rand) {
	if s.IsMine(cell) == isMine {
		return
	}
	if isMine {
		i := rnd.IntN(len(s.MinePositions))
		s.MinePositions[i] = cell
	} else {
		free := make([]int, 0, GridSize)
		for c := 0; c < GridSize; c++ {
			if c != cell && !s.IsMine(c) && !s.IsRevealed(c) {
				free = append(free, c)
			}
		}
		if len(free) == 0 {
			return
		}
		i, _ := slices.BinarySearch(s.MinePositions, cell)
		s.MinePositions[i] = free[rnd.IntN(len(free))]
	}
	slices.Sort(s.MinePositions)
}

// RevealOutcome describes what a reveal did.
type RevealOutcome string

const (
	RevealSafe     RevealOutcome = "safe"
	RevealMine     RevealOutcome = "mine"
	RevealCleared  RevealOutcome = "cleared"
	RevealRepeated RevealOutcome = "repeated"
	RevealInactive RevealOutcome = "inactive"
)

type RevealResult struct {
	Outcome RevealOutcome
	Cell    int
	Session *MinesSession
}

// Terminal reports whether the reveal ended the session.
func (r RevealResult) Terminal() bool {
	return r.Outcome == RevealMine || r.Outcome == RevealCleared
}

// Mines is the mines session state machine.
type Mines struct {
	sessions SessionRepository
	rnd      Rand
	locks    *userLocks
	now      func() time.Time
}

func NewMines(sessions SessionRepository, rnd Rand) *Mines {
	if rnd == nil {
		rnd = DefaultRand
	}
	return &Mines{sessions: sessions, rnd: rnd, locks: newUserLocks(), now: time.Now}
}

// MinesBase resolves mines_base_multiplier_{count}, then
// mines_base_multiplier, then DefaultMinesBase. Values below 1.01 are
// ignored and the result is capped at MultiplierCeiling.
func MinesBase(settings Settings, mineCount int) decimal.Decimal {
	for _, key := range []string{fmt.Sprintf("%s_%d", KeyMinesBase, mineCount), KeyMinesBase} {
		if d, ok := settings.Decimal(key); ok && d.GreaterThanOrEqual(minMinesBase) {
			return decimal.Min(d, MultiplierCeiling)
		}
	}
	return DefaultMinesBase
}

// SafeChance returns configured mines_safe_chance when 0 < p < 1.
func SafeChance(settings Settings) (float64, bool) {
	d, ok := settings.Decimal(KeyMinesSafeChance)
	if !ok {
		return 0, false
	}
	p, _ := d.Float64()
	if p <= 0 || p >= 1 {
		return 0, false
	}
	return p, true
}

// Active returns the active session of the user or nil.
func (m *Mines) Active(ctx context.Context, userID int64) (*MinesSession, error) {
	s, err := m.sessions.ByUser(ctx, userID)
	if err != nil || !s.IsActive() {
		return nil, err
	}
	return s, nil
}

// Start places mineCount mines uniformly at random and stores a new session.
func (m *Mines) Start(ctx context.Context, userID int64, stake decimal.Decimal, mineCount int, settings Settings) (*MinesSession, error) {
	if mineCount < 1 || mineCount >= GridSize {
		return nil, fmt.Errorf("%w: %d, allowed 1..%d", ErrInvalidMineCount, mineCount, GridSize-1)
	}
	if !stake.IsPositive() {
		return nil, ErrInvalidStake
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	existing, err := m.sessions.ByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrConflictingSession
	}

	now := m.now()
	s := &MinesSession{
		ID:                uuid.NewString(),
		UserID:            userID,
		Stake:             stake,
		BaseMultiplier:    MinesBase(settings, mineCount),
		MineCount:         mineCount,
		MinePositions:     placeMines(m.rnd, mineCount),
		Revealed:          map[int]int{},
		CurrentMultiplier: decimal.NewFromInt(1),
		CurrentPayout:     stake,
		State:             MinesActive,
		HitCell:           -1,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	minesActive.Inc()

	return s.Clone(), nil
}

// placeMines runs a partial Fisher-Yates shuffle over the grid.
func placeMines(rnd Rand, count int) []int {
	cells := make([]int, GridSize)
	for i := range cells {
		cells[i] = i
	}
	for i := 0; i < count; i++ {
		j := i + rnd.IntN(GridSize-i)
		cells[i], cells[j] = cells[j], cells[i]
	}
	positions := slices.Clone(cells[:count])
	slices.Sort(positions)
	return positions
}

// Reveal opens cell. Terminal sessions are removed before Reveal returns.
//
// When mines_safe_chance is set, whether the cell holds a mine is decided at
// the moment it is opened and the board is rearranged to match. The declared
// mine count then no longer defines the odds.
func (m *Mines) Reveal(ctx context.Context, userID int64, cell int, settings Settings) (RevealResult, error) {
	if cell < 0 || cell >= GridSize {
		return RevealResult{}, fmt.Errorf("%w: %d", ErrInvalidCell, cell)
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	s, err := m.sessions.ByUser(ctx, userID)
	if err != nil {
		return RevealResult{}, err
	}
	if !s.IsActive() {
		return RevealResult{Outcome: RevealInactive, Cell: cell, Session: s}, nil
	}
	if s.IsRevealed(cell) {
		return RevealResult{Outcome: RevealRepeated, Cell: cell, Session: s}, nil
	}

	mine := s.IsMine(cell)
	if p, ok := SafeChance(settings); ok {
		mine = m.rnd.Float64() >= p
		s.moveMine(cell, mine, m.rnd)
	}
	s.UpdatedAt = m.now()

	if mine {
		s.State = MinesLost
		s.HitCell = cell
		s.CurrentPayout = decimal.Zero
		if err := m.finish(ctx, s); err != nil {
			return RevealResult{}, err
		}
		return RevealResult{Outcome: RevealMine, Cell: cell, Session: s}, nil
	}

	s.SafeSteps++
	s.Revealed[cell] = s.SafeSteps
	s.CurrentMultiplier = s.CurrentMultiplier.Mul(s.BaseMultiplier).RoundFloor(2)
	s.CurrentPayout = s.Stake.Mul(s.CurrentMultiplier).RoundFloor(2)

	if s.SafeSteps == s.SafeCells() {
		s.State = MinesWon
		if err := m.finish(ctx, s); err != nil {
			return RevealResult{}, err
		}
		return RevealResult{Outcome: RevealCleared, Cell: cell, Session: s}, nil
	}

	if err := m.sessions.Save(ctx, s); err != nil {
		return RevealResult{}, err
	}
	return RevealResult{Outcome: RevealSafe, Cell: cell, Session: s}, nil
}

// CashOut ends an active session with at least one safe step as won.
func (m *Mines) CashOut(ctx context.Context, userID int64) (*MinesSession, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	s, err := m.sessions.ByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, ErrNoActiveSession
	}
	if s.SafeSteps == 0 {
		return nil, ErrNothingToCashOut
	}

	s.State = MinesWon
	s.UpdatedAt = m.now()
	if err := m.finish(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Restore puts a finished but unsettled won session back into play.
func (m *Mines) Restore(ctx context.Context, s *MinesSession) error {
	unlock := m.locks.Lock(s.UserID)
	defer unlock()

	r := s.Clone()
	r.State = MinesActive
	if err := m.sessions.Create(ctx, r); err != nil {
		return err
	}
	minesActive.Inc()
	return nil
}

// Stale lists active sessions idle for longer than ttl.
func (m *Mines) Stale(ctx context.Context, ttl time.Duration) ([]*MinesSession, error) {
	list, err := m.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	deadline := m.now().Add(-ttl)
	stale := list[:0]
	for _, s := range list {
		if s.IsActive() && s.UpdatedAt.Before(deadline) {
			stale = append(stale, s)
		}
	}
	return stale, nil
}

// Expire ends candidate if it is still active and idle for longer than ttl.
// A session with safe steps ends as won and needs settlement, an untouched
// one is dropped. ok is false when the session moved on meanwhile.
func (m *Mines) Expire(ctx context.Context, candidate *MinesSession, ttl time.Duration) (s *MinesSession, ok bool, err error) {
	unlock := m.locks.Lock(candidate.UserID)
	defer unlock()

	s, err = m.sessions.Get(ctx, candidate.ID)
	if err != nil || s == nil || !s.IsActive() || !s.UpdatedAt.Before(m.now().Add(-ttl)) {
		return nil, false, err
	}
	if s.SafeSteps > 0 {
		s.State = MinesWon
		s.UpdatedAt = m.now()
	}
	if err := m.finish(ctx, s); err != nil {
		return nil, false, err
	}

	return s, true, nil
}

// Park stores a finished session whose settlement failed. A parked session
// keeps the user from starting a new board until it is released.
func (m *Mines) Park(ctx context.Context, s *MinesSession) error {
	if s.IsActive() {
		return fmt.Errorf("park session %s: session is active", s.ID)
	}

	unlock := m.locks.Lock(s.UserID)
	defer unlock()

	return m.sessions.Create(ctx, s)
}

// Parked returns the finished unsettled session of the user or nil.
func (m *Mines) Parked(ctx context.Context, userID int64) (*MinesSession, error) {
	s, err := m.sessions.ByUser(ctx, userID)
	if err != nil || s == nil || s.IsActive() {
		return nil, err
	}
	return s, nil
}

// ParkedUsers returns users with a parked session.
func (m *Mines) ParkedUsers(ctx context.Context) ([]int64, error) {
	list, err := m.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	var users []int64
	for _, s := range list {
		if !s.IsActive() {
			users = append(users, s.UserID)
		}
	}
	return users, nil
}

// Release drops a parked session after it has been settled.
func (m *Mines) Release(ctx context.Context, s *MinesSession) error {
	unlock := m.locks.Lock(s.UserID)
	defer unlock()

	return m.sessions.Remove(ctx, s)
}

func (m *Mines) finish(ctx context.Context, s *MinesSession) error {
	if err := m.sessions.Remove(ctx, s); err != nil {
		return err
	}
	minesActive.Dec()
	return nil
}
