package service

import (
	"fmt"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/storage"
)

func validateAccumulationParams(p domain.AccumulationParams) error {
	switch {
	case p.InitialStepSize <= 0:
		return fmt.Errorf("%w: initial step size must be positive", storage.ErrInvalidInput)
	case p.TriggerDropPct <= 0 || p.TriggerDropPct >= 1:
		return fmt.Errorf("%w: trigger drop pct must be in (0, 1)", storage.ErrInvalidInput)
	case p.StepMultiplier < 1:
		return fmt.Errorf("%w: step multiplier must be >= 1", storage.ErrInvalidInput)
	case p.MaxSteps < 0:
		return fmt.Errorf("%w: max steps must not be negative", storage.ErrInvalidInput)
	case p.ProfitTargetPct <= 0:
		return fmt.Errorf("%w: profit target pct must be positive", storage.ErrInvalidInput)
	case p.StopLossPct <= 0 || p.StopLossPct >= 1:
		return fmt.Errorf("%w: stop loss pct must be in (0, 1)", storage.ErrInvalidInput)
	case p.SlippageBps <= 0 || p.MaxSlippageBps < p.SlippageBps:
		return fmt.Errorf("%w: slippage bps must be positive and below its ceiling", storage.ErrInvalidInput)
	case p.MaxCommitment < p.InitialStepSize:
		return fmt.Errorf("%w: max commitment must cover at least the entry buy", storage.ErrInvalidInput)
	}
	return nil
}

func validateGridParams(p domain.GridParams) error {
	switch {
	case p.TotalCommitment <= 0:
		return fmt.Errorf("%w: total commitment must be positive", storage.ErrInvalidInput)
	case p.BuyRungCount < 1 || p.SellRungCount < 1:
		return fmt.Errorf("%w: both ladders need at least one rung", storage.ErrInvalidInput)
	case p.DropPct <= 0 || float64(p.BuyRungCount)*p.DropPct >= 1:
		return fmt.Errorf("%w: drop pct must be positive and the ladder must stay above zero", storage.ErrInvalidInput)
	case p.LeapPct <= 0:
		return fmt.Errorf("%w: leap pct must be positive", storage.ErrInvalidInput)
	case p.SlippageBps <= 0 || p.MaxSlippageBps < p.SlippageBps:
		return fmt.Errorf("%w: slippage bps must be positive and below its ceiling", storage.ErrInvalidInput)
	}
	return nil
}
