package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/gridbase/gridbase/internal/engine"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// DefaultBatchSize is the number of records per insert batch when the
// configuration leaves it unset.
const DefaultBatchSize = 500

// Config is the configuration for an import run.
type Config struct {

	// Logger to use for logging.
	Logger logger.Logger

	// Engine used to write the records.
	Engine *engine.Engine

	// TenantID is the tenant the records belong to.
	TenantID int64

	// Table is the logical table name to load into.
	Table string

	// BatchSize is the number of records per insert batch.
	BatchSize int
}

// Result summarizes a completed import run.
type Result struct {
	Inserted int
	Batches  int
}

// Importer loads newline-delimited JSON files into a tenant table. Each line
// must be one record object; gzip files are handled transparently.
type Importer struct {
	logger    logger.Logger
	engine    *engine.Engine
	tenantID  int64
	table     string
	batchSize int
}

func New(config Config) *Importer {
	size := config.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Importer{
		logger:    config.Logger.WithPrefix("[importer]"),
		engine:    config.Engine,
		tenantID:  config.TenantID,
		table:     config.Table,
		batchSize: size,
	}
}

func (i *Importer) flush(ctx context.Context, batch []map[string]any) error {
	if _, err := i.engine.InsertMany(ctx, i.tenantID, i.table, batch, nil); err != nil {
		return err
	}
	return nil
}

// Run imports the file and returns how many records landed. The insert
// batches are independent, so a failure mid-file leaves earlier batches
// committed.
func (i *Importer) Run(ctx context.Context, filename string) (*Result, error) {
	started := time.Now()
	dec, err := util.NewNDJSONDecoder(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to create JSON decoder for %s: %w", filename, err)
	}
	defer dec.Close()

	var res Result
	batch := make([]map[string]any, 0, i.batchSize)
	for dec.More() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		var record map[string]any
		if err := dec.Decode(&record); err != nil {
			return nil, fmt.Errorf("unable to decode JSON at record %d: %w", res.Inserted+len(batch)+1, err)
		}
		batch = append(batch, record)
		if len(batch) >= i.batchSize {
			if err := i.flush(ctx, batch); err != nil {
				return nil, err
			}
			res.Inserted += len(batch)
			res.Batches++
			i.logger.Debug("imported batch %d (%d records so far)", res.Batches, res.Inserted)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := i.flush(ctx, batch); err != nil {
			return nil, err
		}
		res.Inserted += len(batch)
		res.Batches++
	}
	if err := dec.Close(); err != nil {
		return nil, err
	}
	i.logger.Info("imported %d records into %s in %v", res.Inserted, i.table, time.Since(started))
	return &res, nil
}
