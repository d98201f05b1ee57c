// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/reshapedb/reshape/pkg/migrations/templates"
	"github.com/reshapedb/reshape/pkg/schema"
)

// sqlRunner is the minimal surface install/drop need: both db.DB and
// db.TxDB satisfy it structurally, so complete's transaction-scoped
// cleanup and run/abort's bare-connection cleanup share this code.
type sqlRunner interface {
	Run(ctx context.Context, sql string) error
}

var templateFuncs = template.FuncMap{
	"qi": schema.QuoteIdentifier,
	"ql": schema.QuoteLiteral,
}

var (
	functionTmpl           = template.Must(template.New("function").Funcs(templateFuncs).Parse(templates.Function))
	statementFunctionTmpl  = template.Must(template.New("statement_function").Funcs(templateFuncs).Parse(templates.StatementFunction))
	triggerTmpl            = template.Must(template.New("trigger").Funcs(templateFuncs).Parse(templates.Trigger))
	constraintFunctionTmpl = template.Must(template.New("constraint_function").Funcs(templateFuncs).Parse(templates.ConstraintFunction))
	constraintTriggerTmpl  = template.Must(template.New("constraint_trigger").Funcs(templateFuncs).Parse(templates.ConstraintTrigger))
)

// TriggerConfig describes a single write-translation trigger: a function
// named Name on TableName that binds every live column under Columns
// (logical name -> physical name) and, when Condition holds, overwrites
// TargetColumn with the result of SQL (spec §4.6, §9).
type TriggerConfig struct {
	Name         string
	TableName    string
	Columns      map[string]string
	Condition    string
	TargetColumn string
	SQL          string
}

// render executes tmpl against cfg and returns the resulting SQL.
func render(tmpl *template.Template, cfg TriggerConfig) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("rendering %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// installTrigger creates (or replaces) cfg's function and BEFORE
// INSERT/UPDATE trigger. Idempotent: every action's Run must be
// re-runnable after a crash.
func installTrigger(ctx context.Context, conn sqlRunner, cfg TriggerConfig) error {
	functionSQL, err := render(functionTmpl, cfg)
	if err != nil {
		return err
	}
	if err := conn.Run(ctx, functionSQL); err != nil {
		return fmt.Errorf("creating function %q: %w", cfg.Name, err)
	}

	triggerSQL, err := render(triggerTmpl, cfg)
	if err != nil {
		return err
	}
	if err := conn.Run(ctx, triggerSQL); err != nil {
		return fmt.Errorf("creating trigger %q: %w", cfg.Name, err)
	}
	return nil
}

// installStatementTrigger is like installTrigger but for a trigger whose
// body runs cfg.SQL as a standalone statement (e.g. an INSERT ... ON
// CONFLICT) rather than assigning cfg.TargetColumn.
func installStatementTrigger(ctx context.Context, conn sqlRunner, cfg TriggerConfig) error {
	functionSQL, err := render(statementFunctionTmpl, cfg)
	if err != nil {
		return err
	}
	if err := conn.Run(ctx, functionSQL); err != nil {
		return fmt.Errorf("creating function %q: %w", cfg.Name, err)
	}

	triggerSQL, err := render(triggerTmpl, cfg)
	if err != nil {
		return err
	}
	if err := conn.Run(ctx, triggerSQL); err != nil {
		return fmt.Errorf("creating trigger %q: %w", cfg.Name, err)
	}
	return nil
}

// installConstraintTrigger creates (or replaces) cfg's function and a
// (non-deferrable) constraint trigger, used by RemoveColumn to keep enforcing a
// dropped NOT NULL for old-schema writers (spec §4.4.4).
func installConstraintTrigger(ctx context.Context, conn sqlRunner, cfg TriggerConfig) error {
	functionSQL, err := render(constraintFunctionTmpl, cfg)
	if err != nil {
		return err
	}
	if err := conn.Run(ctx, functionSQL); err != nil {
		return fmt.Errorf("creating constraint function %q: %w", cfg.Name, err)
	}

	dropSQL := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", schema.QuoteIdentifier(cfg.Name), schema.QuoteIdentifier(cfg.TableName))
	if err := conn.Run(ctx, dropSQL); err != nil {
		return fmt.Errorf("dropping constraint trigger %q: %w", cfg.Name, err)
	}

	triggerSQL, err := render(constraintTriggerTmpl, cfg)
	if err != nil {
		return err
	}
	if err := conn.Run(ctx, triggerSQL); err != nil {
		return fmt.Errorf("creating constraint trigger %q: %w", cfg.Name, err)
	}
	return nil
}

// dropTrigger removes a trigger and its backing function, tolerating
// either already being gone (Abort may run after a partial Run).
func dropTrigger(ctx context.Context, conn sqlRunner, name, tableName string) error {
	if err := conn.Run(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", schema.QuoteIdentifier(name), schema.QuoteIdentifier(tableName))); err != nil {
		return fmt.Errorf("dropping trigger %q: %w", name, err)
	}
	if err := conn.Run(ctx, fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", schema.QuoteIdentifier(name))); err != nil {
		return fmt.Errorf("dropping function %q: %w", name, err)
	}
	return nil
}
