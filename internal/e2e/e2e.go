//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/gridbase/gridbase/internal/api"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// Harness carries everything a scenario needs to talk to a running server.
// Table names get a per-run suffix so repeated runs against the same tenant
// never collide.
type Harness struct {
	Logger   logger.Logger
	Client   *api.Client
	TenantID int64

	suffix  string
	created []string
}

// TableName decorates a base name with the run suffix.
func (h *Harness) TableName(base string) string {
	name := fmt.Sprintf("%s_%s", base, h.suffix)
	h.created = append(h.created, name)
	return name
}

// cleanup drops every table the run created. Failures only log; the server
// may have already dropped some of them.
func (h *Harness) cleanup(ctx context.Context) {
	for _, name := range h.created {
		if err := h.Client.DeleteTable(ctx, h.TenantID, name, true); err != nil {
			var respErr *api.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
				continue
			}
			h.Logger.Warn("cleanup of %s failed: %s", name, err)
		}
	}
}

// Scenario is one self-contained test against a live server.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, h *Harness) error
}

var scenarios = []Scenario{
	{Name: "table-lifecycle", Run: tableLifecycle},
	{Name: "record-crud", Run: recordCRUD},
	{Name: "query-pagination", Run: queryPagination},
	{Name: "validation-errors", Run: validationErrors},
	{Name: "schema-doc", Run: schemaDoc},
}

// Names lists the registered scenario names in run order.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	return names
}

// Config is the configuration for a scenario run.
type Config struct {

	// Logger to use for logging.
	Logger logger.Logger

	// BaseURL of the server under test.
	BaseURL string

	// Token is the bearer token for the server, if it requires one.
	Token string

	// TenantID is the tenant the scenarios run against.
	TenantID int64
}

// Run executes the registered scenarios against a live server. With only set,
// just the named scenarios run. The first hard failure stops the run.
func Run(ctx context.Context, config Config, only []string) error {
	client := api.New(api.Config{Logger: config.Logger, BaseURL: config.BaseURL, Token: config.Token})
	if _, err := client.Health(ctx); err != nil {
		return fmt.Errorf("server is not healthy: %w", err)
	}
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	var failed int
	started := time.Now()
	for _, s := range scenarios {
		if len(only) > 0 && !util.SliceContains(only, s.Name) {
			continue
		}
		h := &Harness{
			Logger:   config.Logger.WithPrefix("[" + s.Name + "]"),
			Client:   client,
			TenantID: config.TenantID,
			suffix:   util.Hash(time.Now().UnixNano(), s.Name)[:8],
		}
		sstarted := time.Now()
		err := s.Run(ctx, h)
		h.cleanup(ctx)
		if err != nil {
			failed++
			fmt.Printf("%-10s%s (%v)\n", red("FAIL"), s.Name, time.Since(sstarted))
			config.Logger.Error("%s: %s", s.Name, err)
			continue
		}
		fmt.Printf("%-10s%s (%v)\n", green("PASS"), s.Name, time.Since(sstarted))
	}
	if failed > 0 {
		return fmt.Errorf("%d scenario(s) failed after %v", failed, time.Since(started))
	}
	config.Logger.Info("all scenarios passed in %v", time.Since(started))
	return nil
}
