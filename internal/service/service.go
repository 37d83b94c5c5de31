// Package service is the lifecycle facade over strategies and grids. It is
// the only surface an outer API layer calls; every financial mutation goes
// through the engines, never through this package directly.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/engine"
	"solana-strategy-engine/internal/oracle"
	"solana-strategy-engine/internal/scheduler"
	"solana-strategy-engine/internal/storage"
	"solana-strategy-engine/internal/swaprouter"
)

// MetadataResolver resolves token metadata. Satisfied by swaprouter clients.
type MetadataResolver interface {
	TokenMetadata(ctx context.Context, mint string) (*swaprouter.TokenInfo, error)
}

// Service exposes create/pause/resume/stop/inspect operations.
type Service struct {
	strategies storage.StrategyStore
	grids      storage.GridStore
	accum      *engine.AccumulationEngine
	grid       *engine.GridEngine
	sched      *scheduler.Scheduler
	metadata   MetadataResolver
	prices     oracle.PriceOracle
	quoteMint  string

	now func() time.Time
}

// New creates the service facade.
func New(strategies storage.StrategyStore, grids storage.GridStore,
	accum *engine.AccumulationEngine, grid *engine.GridEngine,
	sched *scheduler.Scheduler, metadata MetadataResolver,
	prices oracle.PriceOracle, quoteMint string) *Service {
	return &Service{
		strategies: strategies,
		grids:      grids,
		accum:      accum,
		grid:       grid,
		sched:      sched,
		metadata:   metadata,
		prices:     prices,
		quoteMint:  quoteMint,
		now:        time.Now,
	}
}

// CreateStrategy validates, persists and schedules a new accumulation
// strategy. Asset decimals are resolved from the router's token metadata
// exactly once, here.
func (s *Service) CreateStrategy(ctx context.Context, ownerID, mint string, params domain.AccumulationParams) (*domain.AccumulationStrategy, error) {
	if err := validateAccumulationParams(params); err != nil {
		return nil, err
	}
	asset, err := s.resolveAsset(ctx, mint)
	if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	st := &domain.AccumulationStrategy{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Asset:       asset,
		Params:      params,
		Status:      domain.StatusActive,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	if err := s.strategies.Upsert(ctx, st); err != nil {
		return nil, fmt.Errorf("persist strategy: %w", err)
	}

	s.scheduleStrategy(st.OwnerID, st.ID)
	log.Printf("[service] created strategy %s for owner %s on %s", st.ID, ownerID, asset.Symbol)
	return st, nil
}

// CreateGrid validates, persists, seeds and schedules a new grid instance.
// The seed buy runs synchronously so a grid returned to the caller either
// has its ladders built or reports the launch error.
func (s *Service) CreateGrid(ctx context.Context, ownerID, mint string, params domain.GridParams) (*domain.Grid, error) {
	if err := validateGridParams(params); err != nil {
		return nil, err
	}
	asset, err := s.resolveAsset(ctx, mint)
	if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	g := &domain.Grid{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Asset:       asset,
		Params:      params,
		Status:      domain.StatusActive,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	if err := s.grids.Upsert(ctx, g); err != nil {
		return nil, fmt.Errorf("persist grid: %w", err)
	}

	if err := s.grid.Launch(ctx, ownerID, g.ID); err != nil {
		// The record stays persisted; the scheduled loop finishes the
		// launch once the underlying failure clears.
		log.Printf("[service] grid %s: seed buy failed, launch retries on schedule: %v", g.ID, err)
	}

	s.scheduleGrid(g.OwnerID, g.ID)
	log.Printf("[service] created grid %s for owner %s on %s", g.ID, ownerID, asset.Symbol)
	return s.grids.Get(ctx, ownerID, g.ID)
}

// PauseStrategy suspends evaluation without closing the position.
func (s *Service) PauseStrategy(ctx context.Context, ownerID, id string) error {
	return s.setStrategyStatus(ctx, ownerID, id, domain.StatusPaused)
}

// ResumeStrategy re-activates a paused strategy.
func (s *Service) ResumeStrategy(ctx context.Context, ownerID, id string) error {
	return s.setStrategyStatus(ctx, ownerID, id, domain.StatusActive)
}

// StopStrategy permanently stops a strategy at the owner's request. The
// position is left as-is; stopping is a scheduling decision, not a trade.
func (s *Service) StopStrategy(ctx context.Context, ownerID, id string) error {
	st, err := s.strategies.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}
	st.Status = domain.StatusStopped
	st.StopReason = domain.StopReasonOwner
	st.TimestampTouch(s.now().UnixMilli())
	if err := s.strategies.Upsert(ctx, st); err != nil {
		return fmt.Errorf("persist strategy: %w", err)
	}
	s.sched.Remove(strategyKey(ownerID, id))
	return nil
}

// PauseGrid suspends evaluation of a grid.
func (s *Service) PauseGrid(ctx context.Context, ownerID, id string) error {
	return s.setGridStatus(ctx, ownerID, id, domain.StatusPaused)
}

// ResumeGrid re-activates a paused grid.
func (s *Service) ResumeGrid(ctx context.Context, ownerID, id string) error {
	return s.setGridStatus(ctx, ownerID, id, domain.StatusActive)
}

// StopGrid permanently stops a grid at the owner's request.
func (s *Service) StopGrid(ctx context.Context, ownerID, id string) error {
	g, err := s.grids.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if g.Status.Terminal() {
		return nil
	}
	g.Status = domain.StatusStopped
	g.StopReason = domain.StopReasonOwner
	g.TimestampTouch(s.now().UnixMilli())
	if err := s.grids.Upsert(ctx, g); err != nil {
		return fmt.Errorf("persist grid: %w", err)
	}
	s.sched.Remove(gridKey(ownerID, id))
	return nil
}

// GetStrategy returns one strategy record.
func (s *Service) GetStrategy(ctx context.Context, ownerID, id string) (*domain.AccumulationStrategy, error) {
	return s.strategies.Get(ctx, ownerID, id)
}

// ListStrategies returns an owner's strategies, oldest first.
func (s *Service) ListStrategies(ctx context.Context, ownerID string) ([]*domain.AccumulationStrategy, error) {
	return s.strategies.ListByOwner(ctx, ownerID)
}

// GetGrid returns one grid record.
func (s *Service) GetGrid(ctx context.Context, ownerID, id string) (*domain.Grid, error) {
	return s.grids.Get(ctx, ownerID, id)
}

// ListGrids returns an owner's grids, oldest first.
func (s *Service) ListGrids(ctx context.Context, ownerID string) ([]*domain.Grid, error) {
	return s.grids.ListByOwner(ctx, ownerID)
}

// Rehydrate reloads every persisted instance at process start, repairs any
// trade interrupted by a crash, and re-arms scheduling for active records.
func (s *Service) Rehydrate(ctx context.Context) error {
	strategies, err := s.strategies.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	for _, st := range strategies {
		if err := s.accum.Rehydrate(ctx, st); err != nil {
			return fmt.Errorf("rehydrate strategy %s: %w", st.ID, err)
		}
		if st.Status == domain.StatusActive {
			s.scheduleStrategy(st.OwnerID, st.ID)
		}
	}

	grids, err := s.grids.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load grids: %w", err)
	}
	for _, g := range grids {
		if err := s.grid.Rehydrate(ctx, g); err != nil {
			return fmt.Errorf("rehydrate grid %s: %w", g.ID, err)
		}
		if g.Status == domain.StatusActive {
			s.scheduleGrid(g.OwnerID, g.ID)
		}
	}

	log.Printf("[service] rehydrated %d strategies, %d grids", len(strategies), len(grids))
	return nil
}

func (s *Service) setStrategyStatus(ctx context.Context, ownerID, id string, status domain.InstanceStatus) error {
	st, err := s.strategies.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return fmt.Errorf("%w: strategy %s is %s", storage.ErrInvalidInput, id, st.Status)
	}
	if st.Status == status {
		return nil
	}
	st.Status = status
	st.TimestampTouch(s.now().UnixMilli())
	if err := s.strategies.Upsert(ctx, st); err != nil {
		return fmt.Errorf("persist strategy: %w", err)
	}

	if status == domain.StatusActive {
		s.scheduleStrategy(ownerID, id)
	} else {
		s.sched.Remove(strategyKey(ownerID, id))
	}
	return nil
}

func (s *Service) setGridStatus(ctx context.Context, ownerID, id string, status domain.InstanceStatus) error {
	g, err := s.grids.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if g.Status.Terminal() {
		return fmt.Errorf("%w: grid %s is %s", storage.ErrInvalidInput, id, g.Status)
	}
	if g.Status == status {
		return nil
	}
	g.Status = status
	g.TimestampTouch(s.now().UnixMilli())
	if err := s.grids.Upsert(ctx, g); err != nil {
		return fmt.Errorf("persist grid: %w", err)
	}

	if status == domain.StatusActive {
		s.scheduleGrid(ownerID, id)
	} else {
		s.sched.Remove(gridKey(ownerID, id))
	}
	return nil
}

func (s *Service) scheduleStrategy(ownerID, id string) {
	s.sched.Add("accumulation", strategyKey(ownerID, id), func(ctx context.Context) error {
		return s.accum.Evaluate(ctx, ownerID, id)
	})
}

func (s *Service) scheduleGrid(ownerID, id string) {
	s.sched.Add("grid", gridKey(ownerID, id), func(ctx context.Context) error {
		return s.grid.Evaluate(ctx, ownerID, id)
	})
}

func (s *Service) resolveAsset(ctx context.Context, mint string) (domain.Asset, error) {
	// Mints may be program-derived, so only shape is checked here; the
	// on-curve check in signer.ValidateAddress is for fund destinations.
	decoded, err := base58.Decode(mint)
	if err != nil || len(decoded) != 32 {
		return domain.Asset{}, fmt.Errorf("%w: malformed mint %q", storage.ErrInvalidInput, mint)
	}
	info, err := s.metadata.TokenMetadata(ctx, mint)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("resolve token metadata for %s: %w", mint, err)
	}
	return domain.Asset{Mint: info.Mint, Symbol: info.Symbol, Decimals: info.Decimals}, nil
}

func strategyKey(ownerID, id string) string { return "strategy/" + ownerID + "/" + id }
func gridKey(ownerID, id string) string     { return "grid/" + ownerID + "/" + id }
