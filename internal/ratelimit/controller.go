// Package ratelimit — трёхуровневый контроллер допуска запросов к удалённому
// сервису: общий лимитер, лимитер по классу операции (чтение истории,
// отправка медиа, служебные вызовы) и лимитер на сессию. Допуск требует
// токена от всех трёх уровней. В основе та же идея токен-бакета, что и в
// throttle.Throttler, но разнесённая на несколько независимых бакетов и
// дополненная адаптивной подстройкой скорости по скользящему окну исходов.
package ratelimit

import (
	"container/ring"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lbj9527/tgrelay/internal/errs"
)

// OpClass различает операции, которые удалённый сервис ограничивает по
// разным правилам (spec §4.2): история сообщений ограничена мягче, чем
// отправка медиа; служебные вызовы (join/leave, resolve) — отдельный класс.
type OpClass int

const (
	OpHistory OpClass = iota
	OpSend
	OpService
)

func (c OpClass) String() string {
	switch c {
	case OpHistory:
		return "history"
	case OpSend:
		return "send"
	case OpService:
		return "service"
	default:
		return "unknown"
	}
}

// Action — решение контроллера после наблюдения ошибки от удалённого сервиса.
type Action int

const (
	ActionNone Action = iota
	ActionAbsorb
	ActionSuspendSession
)

// FloodWaitError — типизированная ошибка «подождите N секунд», которую
// возвращает транспортный адаптер. Реализует errs.Kinded с Kind() ==
// KindRateLimit, так что выше по стеку её можно отличить без приведения типа.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return "flood wait: " + e.Wait.String()
}

func (e *FloodWaitError) Kind() errs.Kind             { return errs.KindRateLimit }
func (e *FloodWaitError) WaitDuration() time.Duration { return e.Wait }

// waitCarrier is satisfied by any KindRateLimit error that can report how
// long the remote service asked the caller to wait — transport.RateLimited
// and FloodWaitError both qualify without this package importing transport
// (spec §4.2: the controller classifies by duck-typed shape, not concrete
// type, so either error source enters the same retune/absorb decision).
type waitCarrier interface {
	WaitDuration() time.Duration
}

// Config задаёт начальные скорости и границы адаптивной подстройки.
// Нулевое значение Config недопустимо — используйте DefaultConfig.
type Config struct {
	GlobalRPS  float64
	GlobalBurst int

	ClassRPS   map[OpClass]float64
	ClassBurst map[OpClass]int

	SessionRPS   float64
	SessionBurst int

	// AbsorbThreshold — флуд-вейты короче этого порога контроллер просто
	// пережидает (absorb); длиннее — сессия помечается на приостановку.
	AbsorbThreshold time.Duration

	// MinRateFactor/MaxRateFactor ограничивают множитель адаптивной
	// подстройки относительно исходной ClassRPS.
	MinRateFactor float64
	MaxRateFactor float64

	// WindowSize — размер кольцевого буфера исходов на класс операции.
	WindowSize int
}

// DefaultConfig возвращает разумные значения по умолчанию (spec §4.2).
func DefaultConfig() Config {
	return Config{
		GlobalRPS:   20,
		GlobalBurst: 40,
		ClassRPS: map[OpClass]float64{
			OpHistory: 5,
			OpSend:    3,
			OpService: 2,
		},
		ClassBurst: map[OpClass]int{
			OpHistory: 10,
			OpSend:    6,
			OpService: 4,
		},
		SessionRPS:      2,
		SessionBurst:    4,
		AbsorbThreshold: 10 * time.Second,
		MinRateFactor:   0.25,
		MaxRateFactor:   1.5,
		WindowSize:      50,
	}
}

// outcome — один элемент скользящего окна, используемого адаптивной
// подстройкой скорости.
type outcome struct {
	floodWait bool
}

// classState держит лимитер класса, его базовую скорость и скользящее окно
// исходов, используемое для подстройки текущего множителя.
type classState struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	baseRPS   float64
	factor    float64
	window    *ring.Ring
	windowLen int
	calls     int64
	floods    int64
	absorbed  int64
	suspended int64
}

func newClassState(rps float64, burst int, windowSize int) *classState {
	if windowSize < 1 {
		windowSize = 1
	}
	return &classState{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		baseRPS:   rps,
		factor:    1.0,
		window:    ring.New(windowSize),
		windowLen: windowSize,
	}
}

// Controller — допускающий трёхуровневый лимитер с адаптивной подстройкой.
// Безопасен для конкурентного использования.
type Controller struct {
	cfg Config

	global *rate.Limiter

	classMu sync.Mutex
	classes map[OpClass]*classState

	sessionMu sync.Mutex
	sessions  map[string]*rate.Limiter
}

// New создаёт контроллер с заданной конфигурацией.
func New(cfg Config) *Controller {
	c := &Controller{
		cfg:      cfg,
		global:   rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		classes:  make(map[OpClass]*classState),
		sessions: make(map[string]*rate.Limiter),
	}
	for class, rps := range cfg.ClassRPS {
		burst := cfg.ClassBurst[class]
		if burst < 1 {
			burst = 1
		}
		c.classes[class] = newClassState(rps, burst, cfg.WindowSize)
	}
	return c
}

func (c *Controller) classState(class OpClass) *classState {
	c.classMu.Lock()
	defer c.classMu.Unlock()
	cs, ok := c.classes[class]
	if !ok {
		cs = newClassState(2, 4, c.cfg.WindowSize)
		c.classes[class] = cs
	}
	return cs
}

func (c *Controller) sessionLimiter(session string) *rate.Limiter {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	l, ok := c.sessions[session]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.SessionRPS), c.cfg.SessionBurst)
		c.sessions[session] = l
	}
	return l
}

// Admit ожидает разрешения от всех трёх уровней (global, class, session)
// для выполнения одной операции. Отменённое ожидание никогда не расходует
// токен: Wait у rate.Limiter откатывает резервацию при ошибке контекста
// ровно для этой цели.
func (c *Controller) Admit(ctx context.Context, class OpClass, session string) error {
	if err := c.global.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindCancellation, err, "ratelimit: global wait cancelled")
	}
	cs := c.classState(class)
	if err := cs.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindCancellation, err, "ratelimit: class wait cancelled")
	}
	sl := c.sessionLimiter(session)
	if err := sl.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindCancellation, err, "ratelimit: session wait cancelled")
	}
	return nil
}

// Observe classifies an error returned by the transport layer after an
// admitted call, updates the class's rolling outcome window and returns the
// policy decision (spec §4.2): absorb a short flood wait in place, or signal
// the caller to suspend the session for a longer one.
func (c *Controller) Observe(class OpClass, err error) (Action, time.Duration) {
	cs := c.classState(class)

	isFlood := errs.Is(err, errs.KindRateLimit)
	var wait time.Duration
	if isFlood {
		if wc, ok := err.(waitCarrier); ok {
			wait = wc.WaitDuration()
		}
	}

	cs.recordOutcome(isFlood)
	c.retune(class, cs)

	if !isFlood {
		return ActionNone, 0
	}
	if wait <= c.cfg.AbsorbThreshold {
		cs.mu.Lock()
		cs.absorbed++
		cs.mu.Unlock()
		return ActionAbsorb, wait
	}
	cs.mu.Lock()
	cs.suspended++
	cs.mu.Unlock()
	return ActionSuspendSession, wait
}

func (cs *classState) recordOutcome(floodWait bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.window.Value = outcome{floodWait: floodWait}
	cs.window = cs.window.Next()
	cs.calls++
	if floodWait {
		cs.floods++
	}
}

// retune adjusts the class limiter's rate by its current factor: down after
// three or more flood-waits in the current window, up after a sustained
// >95% success rate, clamped to [MinRateFactor, MaxRateFactor] of the
// configured base rate. This generalises throttle.Throttler's retry backoff
// from a per-call delay into a standing limiter-rate adjustment.
func (c *Controller) retune(class OpClass, cs *classState) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	floodsInWindow := 0
	total := 0
	cs.window.Do(func(v interface{}) {
		if v == nil {
			return
		}
		total++
		if v.(outcome).floodWait {
			floodsInWindow++
		}
	})
	if total == 0 {
		return
	}

	successRate := float64(total-floodsInWindow) / float64(total)
	prevFactor := cs.factor

	switch {
	case floodsInWindow >= 3:
		cs.factor *= 0.7
	case successRate > 0.95 && total >= cs.windowLen:
		cs.factor *= 1.1
	}

	minF := c.cfg.MinRateFactor
	maxF := c.cfg.MaxRateFactor
	if minF <= 0 {
		minF = 0.25
	}
	if maxF <= 0 {
		maxF = 1.5
	}
	if cs.factor < minF {
		cs.factor = minF
	}
	if cs.factor > maxF {
		cs.factor = maxF
	}

	if cs.factor != prevFactor {
		cs.limiter.SetLimit(rate.Limit(cs.baseRPS * cs.factor))
	}
}

// ClassSnapshot is one class's admission statistics, part of Snapshot.
type ClassSnapshot struct {
	Class          OpClass
	CurrentRPS     float64
	Factor         float64
	Calls          int64
	FloodWaits     int64
	FloodsAbsorbed int64
	Suspended      int64
}

// ControllerSnapshot reports the controller's current tuning state (spec
// §4.2). The Driver diffs two snapshots to count a run's flood-waits;
// session selection does not consult it.
type ControllerSnapshot struct {
	GlobalRPS float64
	Classes   []ClassSnapshot
}

// Snapshot returns the controller's current per-class tuning state.
func (c *Controller) Snapshot() ControllerSnapshot {
	c.classMu.Lock()
	classesCopy := make([]*classState, 0, len(c.classes))
	classKeys := make([]OpClass, 0, len(c.classes))
	for class, cs := range c.classes {
		classesCopy = append(classesCopy, cs)
		classKeys = append(classKeys, class)
	}
	c.classMu.Unlock()

	snap := ControllerSnapshot{GlobalRPS: float64(c.global.Limit())}
	for i, cs := range classesCopy {
		cs.mu.Lock()
		snap.Classes = append(snap.Classes, ClassSnapshot{
			Class:          classKeys[i],
			CurrentRPS:     cs.baseRPS * cs.factor,
			Factor:         cs.factor,
			Calls:          cs.calls,
			FloodWaits:     cs.floods,
			FloodsAbsorbed: cs.absorbed,
			Suspended:      cs.suspended,
		})
		cs.mu.Unlock()
	}
	return snap
}
