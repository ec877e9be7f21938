package engine

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/ruleset"
	"github.com/anstrom/loadout/internal/store"
)

// Pair is a command together with the execution record it produced.
type Pair struct {
	Command ruleset.Command
	Record  store.ExecutionRecord
}

// orchestrate runs every command of set concurrently and returns one Pair
// per command in declaration order. Each dispatch carries its own token, and
// records are read back from the store by (scan, command text, token) once
// all commands finished. The first fatal runner error cancels the others.
func (e *Engine) orchestrate(ctx context.Context, scanID int64, set *ruleset.BulletSet) ([]Pair, error) {
	tokens := make([]string, set.Len())

	g, gctx := errgroup.WithContext(ctx)
	for i := range set.Commands {
		tokens[i] = uuid.NewString()
		d := Dispatch{
			ScanID:    scanID,
			BulletSet: set.Name,
			Command:   set.Commands[i].Resolved,
			Token:     tokens[i],
		}
		g.Go(func() error {
			_, err := e.runner.Run(gctx, d)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pairs := make([]Pair, set.Len())
	for i, cmd := range set.Commands {
		records, err := e.store.FetchExecutionRecords(ctx, scanID, cmd.Resolved, tokens[i])
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			e.metrics.IntegrityFailed()
			return nil, &errors.IntegrityError{
				ScanID:   scanID,
				Command:  cmd.Resolved,
				Token:    tokens[i],
				Position: i,
			}
		}
		pairs[i] = Pair{Command: cmd, Record: records[0]}
	}

	return pairs, nil
}
