package features

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ExtractAll extracts every unit concurrently, bounded by ec.Workers.
// Units whose text cannot be read or encoded are logged and returned in skipped
// instead of failing the batch; only cancellation aborts it. Records come back
// ordered by (path, commit). Units with empty SourceText are loaded from the repository first.
func (x *Extractor) ExtractAll(ctx context.Context, ec *contract.ExecContext, units []schema.CodeUnit, history []schema.CommitEvent, horizon time.Duration, labeled bool) ([]schema.FeatureRecord, []schema.UnitID, error) {
	log := ec.Logger.WithFields(logrus.Fields{"stage": "extract", "units": len(units), "labeled": labeled})
	start := time.Now()

	results := make([]*schema.FeatureRecord, len(units))
	var (
		mu      sync.Mutex
		skipped []schema.UnitID
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ec.Workers, 1))
	skip := func(unit schema.CodeUnit) {
		mu.Lock()
		skipped = append(skipped, unit.ID())
		mu.Unlock()
	}
	for i, unit := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if unit.SourceText == "" {
				text, err := x.loadSource(gctx, ec, unit)
				var accessErr *schema.RepositoryAccessError
				if errors.As(err, &accessErr) {
					log.WithError(accessErr.Err).WithField("unit", unit.ID().String()).Warn("skipping unreadable unit")
					skip(unit)
					return nil
				}
				if err != nil {
					return err
				}
				unit.SourceText = text
			}

			var (
				rec schema.FeatureRecord
				err error
			)
			if labeled {
				rec, err = x.ExtractLabeled(unit, history, horizon)
			} else {
				rec, err = x.Extract(unit, history)
			}

			var shapeErr *schema.EncodingShapeError
			if errors.As(err, &shapeErr) {
				log.WithField("unit", unit.ID().String()).Warnf("skipping unit: %s", shapeErr.Reason)
				skip(unit)
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	records := make([]schema.FeatureRecord, 0, len(units))
	for _, r := range results {
		if r != nil {
			records = append(records, *r)
		}
	}
	slices.SortFunc(records, func(a, b schema.FeatureRecord) int {
		return compareUnits(a.Unit, b.Unit)
	})
	slices.SortFunc(skipped, compareUnits)

	log.WithFields(logrus.Fields{
		"records":  len(records),
		"skipped":  len(skipped),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("extraction finished")
	return records, skipped, nil
}

// loadSource reads the unit text, going through the blob cache when one is configured.
func (x *Extractor) loadSource(ctx context.Context, ec *contract.ExecContext, unit schema.CodeUnit) (string, error) {
	cache := ec.BlobCache()
	if cache != nil {
		if content, ok := cache.GetBlob(unit.SnapshotCommitID, unit.Path); ok {
			return string(content), nil
		}
	}

	content, err := ec.Client.ReadFileAtCommit(ctx, x.RepoPath, unit.SnapshotCommitID, unit.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &schema.RepositoryAccessError{Repo: x.RepoPath, CommitID: unit.SnapshotCommitID, Err: err}
	}

	if cache != nil {
		if err := cache.PutBlob(unit.SnapshotCommitID, unit.Path, content); err != nil {
			ec.Logger.WithError(err).WithField("path", unit.Path).Warn("failed to cache source blob")
		}
	}
	return string(content), nil
}

func compareUnits(a, b schema.UnitID) int {
	return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.CommitID, b.CommitID))
}
