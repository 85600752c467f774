package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/chargemap/internal/model"
)

const maxConditionWidth = 60

// table writes aligned rows with a styled header and a rule under it.
type table struct {
	w   *tabwriter.Writer
	err error
}

func newTable(out io.Writer, headers ...string) *table {
	t := &table{w: tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)}

	styled := make([]string, len(headers))
	rules := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = TableHeaderStyle.Render(h)
		rules[i] = strings.Repeat("─", max(len(h), 4))
	}
	t.row(styled...)
	t.row(rules...)
	return t
}

func (t *table) row(cells ...string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintln(t.w, strings.Join(cells, "\t"))
}

func (t *table) flush() error {
	if t.err != nil {
		return fmt.Errorf("failed to write table: %w", t.err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}
	return nil
}

// FormatConditions renders a rule's conditions on one line.
func FormatConditions(conditions []model.MatchCondition) string {
	parts := make([]string, len(conditions))
	for i, c := range conditions {
		parts[i] = fmt.Sprintf("%s %s %q", c.Field, c.Operator, c.Value)
	}
	return strings.Join(parts, " AND ")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// RenderRules writes rules as a table in evaluation order.
func RenderRules(out io.Writer, rules []model.Rule) error {
	t := newTable(out, "ID", "Scope", "Customer", "Pri", "Classification", "Conditions", "State")
	for _, r := range rules {
		state := SuccessStyle.Render("enabled")
		if !r.Enabled {
			state = SubtleStyle.Render("disabled")
		}
		if r.Approved {
			state += " " + SuccessIcon
		}
		customer := r.CustomerName
		if customer == "" {
			customer = "-"
		}
		t.row(
			fmt.Sprint(r.ID),
			FormatScope(string(r.Scope)),
			customer,
			fmt.Sprint(r.Priority),
			r.Classification,
			truncate(FormatConditions(r.Conditions), maxConditionWidth),
			state,
		)
	}
	return t.flush()
}

// RenderRule writes one rule in detail.
func RenderRule(out io.Writer, r *model.Rule) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Scope:"), FormatScope(string(r.Scope)))
	if r.CustomerName != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Customer:"), r.CustomerName)
	}
	fmt.Fprintf(&b, "%s %d\n", BoldStyle.Render("Priority:"), r.Priority)
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Classification:"), r.Classification)
	if r.ChargeGroupHeading != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Group heading:"), r.ChargeGroupHeading)
	}
	fmt.Fprintf(&b, "%s %t   %s %t   %s %d\n",
		BoldStyle.Render("Enabled:"), r.Enabled,
		BoldStyle.Render("Approved:"), r.Approved,
		BoldStyle.Render("Version:"), r.Version)
	if r.ValidatedBy != "" && r.ValidatedAt != nil {
		fmt.Fprintf(&b, "%s %s on %s\n", BoldStyle.Render("Validated by:"), r.ValidatedBy, r.ValidatedAt.Format("2006-01-02"))
	}
	b.WriteString(BoldStyle.Render("Conditions:"))
	for _, c := range r.Conditions {
		fmt.Fprintf(&b, "\n  %s %s %q", c.Field, c.Operator, c.Value)
	}

	title := fmt.Sprintf("Rule %d", r.ID)
	if r.Name != "" {
		title += ": " + r.Name
	}
	_, err := fmt.Fprintln(out, RenderBox(title, b.String()))
	return err
}

// RenderCharges writes charges as a table.
func RenderCharges(out io.Writer, charges []model.Charge) error {
	t := newTable(out, "ID", "Date", "Provider", "Charge", "Classification", "Status")
	for _, c := range charges {
		date := "-"
		if !c.StatementDate.IsZero() {
			date = c.StatementDate.Format("2006-01-02")
		}
		class := c.CurrentClassification()
		if c.IsUncategorized() {
			class = WarningStyle.Render(class)
		}
		t.row(c.ID, date, c.ProviderName, c.ChargeName, class, c.ContributionStatus)
	}
	return t.flush()
}

// RenderChanges writes previewed classification changes as a table.
func RenderChanges(out io.Writer, changes []model.ChargeChange) error {
	t := newTable(out, "Charge", "Name", "From", "", "To", "Rule")
	for _, c := range changes {
		t.row(
			c.Charge.ID,
			c.Charge.ChargeName,
			SubtleStyle.Render(c.OldClassification),
			ArrowIcon,
			SuccessStyle.Render(c.NewClassification),
			fmt.Sprint(c.RuleID),
		)
	}
	return t.flush()
}

// RenderResolution writes the outcome of resolving one charge.
func RenderResolution(out io.Writer, res model.Resolution) error {
	considered := make([]string, len(res.Considered))
	for i, id := range res.Considered {
		considered[i] = fmt.Sprint(id)
	}

	var line string
	switch {
	case !res.Matched():
		line = FormatWarning(fmt.Sprintf("No rule matched; classification stays %s", res.Classification))
	case res.Changed():
		line = FormatSuccess(fmt.Sprintf("%s %s %s (rule %d, %s)",
			res.PreviousClassification, ArrowIcon, res.Classification, *res.MatchedRuleID, res.MatchedScope))
	default:
		line = FormatInfo(fmt.Sprintf("Already %s (rule %d, %s)", res.Classification, *res.MatchedRuleID, res.MatchedScope))
	}

	_, err := fmt.Fprintf(out, "%s\n%s\n", line,
		SubtleStyle.Render("rules considered: "+strings.Join(considered, ", ")))
	return err
}

// RenderApplyResult writes the summary and any failures of an apply run.
func RenderApplyResult(out io.Writer, result *model.ApplyResult) error {
	summary := FormatSuccess(result.Summary())
	if len(result.Failed) > 0 {
		summary = FormatWarning(result.Summary())
	}
	if _, err := fmt.Fprintf(out, "%s\n%s\n", summary,
		SubtleStyle.Render(fmt.Sprintf("run %s: %d candidates, %d already classified", result.RunID, result.Candidates, result.Unchanged))); err != nil {
		return err
	}
	if len(result.Failed) == 0 {
		return nil
	}

	t := newTable(out, "Charge", "Reason")
	for _, f := range result.Failed {
		t.row(f.ChargeID, ErrorStyle.Render(f.Reason))
	}
	return t.flush()
}

// RenderRuns writes apply-run audit records as a table.
func RenderRuns(out io.Writer, runs []model.ApplyRun) error {
	t := newTable(out, "Run", "Customer", "Rule", "Succeeded", "Failed", "Unchanged", "Started", "Took")
	for _, r := range runs {
		rule := "resolve"
		if r.RuleID != 0 {
			rule = fmt.Sprint(r.RuleID)
		}
		t.row(
			r.ID,
			r.CustomerName,
			rule,
			fmt.Sprint(r.Succeeded),
			fmt.Sprint(r.Failed),
			fmt.Sprint(r.Unchanged),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
		)
	}
	return t.flush()
}

// RenderCustomers writes customers as a table.
func RenderCustomers(out io.Writer, customers []model.Customer) error {
	t := newTable(out, "ID", "Name", "Organization", "Created")
	for _, c := range customers {
		t.row(fmt.Sprint(c.ID), c.Name, c.OrganizationID, c.CreatedAt.Local().Format("2006-01-02"))
	}
	return t.flush()
}
