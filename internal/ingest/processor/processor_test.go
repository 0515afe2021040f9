package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/ingest/parser"
	"github.com/silencealoe/data-clean-tool/internal/rules/engine"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

func testConfig(strict bool) *domain.RuleConfiguration {
	return &domain.RuleConfiguration{
		FieldRules: map[string][]domain.FieldRule{
			"phone": {{Name: "phone", Strategy: "phone", Required: true, Priority: 10}},
		},
		GlobalSettings: domain.GlobalSettings{
			StrictMode: strict, ContinueOnError: true, MaxErrors: 1000000,
		},
	}
}

func feedRows(n int, validRatio int) <-chan parser.Row {
	ch := make(chan parser.Row, n)
	go func() {
		defer close(ch)
		for i := 1; i <= n; i++ {
			phone := "13800138000"
			if validRatio > 0 && i%validRatio == 0 {
				phone = "bad-phone"
			}
			ch <- parser.Row{Number: i, Fields: map[string]string{"phone": phone}}
		}
	}()
	return ch
}

func collect(out *Output) ([]domain.RowOutcome, []domain.RowOutcome) {
	var clean, exceptions []domain.RowOutcome
	cleanDone, exceptDone := false, false
	for !cleanDone || !exceptDone {
		select {
		case b, ok := <-out.Clean:
			if !ok {
				cleanDone = true
				continue
			}
			clean = append(clean, b.Outcomes...)
		case b, ok := <-out.Exceptions:
			if !ok {
				exceptDone = true
				continue
			}
			exceptions = append(exceptions, b.Outcomes...)
		case <-time.After(2 * time.Second):
			return clean, exceptions
		}
	}
	return clean, exceptions
}

func TestRun_SequentialWhenParallelProcessingDisabled(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := engine.New(registry, nil)
	cfg := testConfig(false)

	rows := feedRows(20, 0)
	out := Run(context.Background(), rows, eng, cfg, Options{BatchSize: 5})

	clean, exceptions := collect(out)
	assert.Len(t, clean, 20)
	assert.Empty(t, exceptions)
	assert.EqualValues(t, 20, out.Counters.Processed)
}

func TestRun_CleanRowsPreserveAscendingRowNumber(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := engine.New(registry, nil)
	cfg := testConfig(false)
	cfg.GlobalSettings.ParallelProcessing = true
	cfg.GlobalSettings.MaxParallelTasks = 4

	rows := feedRows(500, 0)
	out := Run(context.Background(), rows, eng, cfg, Options{BatchSize: 10, MaxConcurrentWorkers: 4, TotalRows: 500, ParallelProcessingThreshold: 1})

	clean, _ := collect(out)
	require.Len(t, clean, 500)
	for i := 1; i < len(clean); i++ {
		assert.Less(t, clean[i-1].RowNumber, clean[i].RowNumber, fmt.Sprintf("index %d", i))
	}
}

func TestRun_InvalidRowsRouteToExceptions(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := engine.New(registry, nil)
	cfg := testConfig(false)

	rows := feedRows(10, 2) // every other row has a bad phone
	out := Run(context.Background(), rows, eng, cfg, Options{BatchSize: 3})

	clean, exceptions := collect(out)
	assert.Len(t, clean, 5)
	assert.Len(t, exceptions, 5)
}

func TestRun_ErrorCapFailsJob(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := engine.New(registry, nil)
	cfg := testConfig(false)
	cfg.GlobalSettings.MaxErrors = 2

	rows := feedRows(10, 1) // every row invalid
	out := Run(context.Background(), rows, eng, cfg, Options{BatchSize: 2})

	collect(out)
	select {
	case <-out.Failed:
	case <-time.After(time.Second):
		t.Fatal("expected Failed to be closed once error count exceeded maxErrors")
	}
}
