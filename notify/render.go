/*
Package notify turns allocation events into human-readable reports and
delivers them.

PURPOSE:
  The engine emits NewPeriodAllocation and UsageWarning events and does not
  care what happens to them. This package renders each event into one or
  more messages (leader report, member notes, warnings) and hands them to
  a delivery target. Delivery failures are logged, never returned to the
  engine.

MESSAGE KINDS:
  new period, leader:   full breakdown of the group's budget and members
  new period, members:  short note with the group's budget
  usage warning:        a warning threshold was crossed
  zero allocation:      usage keeps growing with no budget left

DISPATCHERS:
  Outbox:        Writes message files into drafts/ (dry run) or sent/
  LogDispatcher: Logs one line per event
  Recorder:      Keeps events in memory (tests, HTTP preview)
  Multi:         Fans out to several dispatchers

SEE ALSO:
  - allocation/events.go: Event types and the Dispatcher interface
*/
package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/warp/su-allocator/allocation"
)

// Message is one rendered report.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Kind      allocation.EventKind
	GroupID   string
	Draft     bool
}

// =============================================================================
// TEMPLATES
// =============================================================================

const leaderTemplate = `Dear {{.Leader}},

the compute allocation of group {{.Group}} for period {{.Period}} of {{.Quarter}} ({{.Dates}}) is {{.Budget}}.

How this budget was computed:
  Remaining quarter supply:  {{.RemainingSupply}}
  Period share:              {{.Share}}
  Group weight:              {{.Weight}} ({{.WeightPercent}}% of all groups)
  Budget before penalty:     {{.BudgetBeforePenalty}}
  Penalty from last period:  {{.PenaltyOld}}
  Budget:                    {{.Budget}}
  Penalty carried forward:   {{.PenaltyNew}}
{{- with .Previous}}

Previous period:
  Budget:   {{.Budget}}
  Usage:    {{.Usage}}
  Overuse:  {{.Overuse}}
{{- end}}

Members ({{len .Members}}):
{{- range .Members}}
  {{printf "%-12s" .ID}} weight {{printf "%-22s" .Weight}} compute {{printf "%-14s" .Compute}} storage {{.Storage}}
{{- end}}
Group storage: {{.Storage}}

{{.SignOff}}
`

const memberTemplate = `Dear {{.Recipient}},

your group {{.Group}} (lead: {{.Leader}}) has been allocated {{.Budget}} for period {{.Period}} of {{.Quarter}} ({{.Dates}}).

{{.SignOff}}
`

const warningTemplate = `Dear {{.Leader}},

group {{.Group}} has used {{.Usage}} of its {{.Budget}} allocation ({{.Percent}}%) in period {{.Period}} of {{.Quarter}}, crossing the {{.Threshold}}% warning level.
Usage beyond the allocation is deducted from the next period's budget.

{{.SignOff}}
`

const exhaustedTemplate = `Dear {{.Leader}},

group {{.Group}} has no compute allocation left in period {{.Period}} of {{.Quarter}} but is still running jobs.
Usage this period: {{.Usage}} (+{{.Delta}} since the last check). All of it will be carried into the next period as a penalty.

{{.SignOff}}
`

type templates struct {
	leader, member, warning, exhausted *template.Template
}

func parseTemplates() (*templates, error) {
	parse := func(name, text string) (*template.Template, error) {
		t, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("invalid %s template: %w", name, err)
		}
		return t, nil
	}
	var ts templates
	var err error
	if ts.leader, err = parse("leader", leaderTemplate); err != nil {
		return nil, err
	}
	if ts.member, err = parse("member", memberTemplate); err != nil {
		return nil, err
	}
	if ts.warning, err = parse("warning", warningTemplate); err != nil {
		return nil, err
	}
	if ts.exhausted, err = parse("exhausted", exhaustedTemplate); err != nil {
		return nil, err
	}
	return &ts, nil
}

// =============================================================================
// RENDERER
// =============================================================================

// Renderer produces messages for events.
type Renderer struct {
	cfg        allocation.Config
	mailDomain string
	signOff    string
	tmpl       *templates
}

// NewRenderer creates a renderer. mailDomain, when set, turns user ids into
// addresses.
func NewRenderer(cfg allocation.Config, mailDomain, signOff string) (*Renderer, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Renderer{cfg: cfg, mailDomain: mailDomain, signOff: signOff, tmpl: tmpl}, nil
}

func (r *Renderer) address(userID string) string {
	if r.mailDomain == "" {
		return userID
	}
	return userID + "@" + r.mailDomain
}

// Render returns the messages for an event.
func (r *Renderer) Render(ev allocation.Event) ([]Message, error) {
	switch e := ev.(type) {
	case allocation.NewPeriodAllocation:
		return r.newPeriod(e)
	case *allocation.NewPeriodAllocation:
		return r.newPeriod(*e)
	case allocation.UsageWarning:
		return r.usageWarning(e)
	case *allocation.UsageWarning:
		return r.usageWarning(*e)
	default:
		return nil, fmt.Errorf("no report for event kind %s", ev.Kind())
	}
}

type memberView struct {
	ID, Weight, Compute, Storage string
}

type previousView struct {
	Budget, Usage, Overuse string
}

type periodView struct {
	Recipient, Group, Leader, Quarter, Dates, SignOff string
	Period                                            int
	Share, Weight, WeightPercent                      string
	RemainingSupply, BudgetBeforePenalty, Budget      string
	PenaltyOld, PenaltyNew, Storage                   string
	Previous                                          *previousView
	Members                                           []memberView
}

func (r *Renderer) newPeriod(e allocation.NewPeriodAllocation) ([]Message, error) {
	rec := e.Record
	view := periodView{
		Group:               e.Group.ID,
		Leader:              rec.Leader,
		Quarter:             e.Period.Quarter.String(),
		Dates:               e.Period.Dates.String(),
		Period:              e.Period.Index + 1,
		SignOff:             r.signOff,
		Share:               "all remaining supply (final period)",
		Weight:              rec.Weight.String(),
		WeightPercent:       rec.WeightFraction.Mul(decimal.NewFromInt(100)).StringFixed(2),
		RemainingSupply:     e.RemainingSupply.String(),
		BudgetBeforePenalty: rec.BudgetBeforePenalty.String(),
		Budget:              rec.Budget.String(),
		PenaltyOld:          rec.PenaltyOld.String(),
		PenaltyNew:          rec.PenaltyNew.String(),
		Storage:             e.Group.Storage.String(),
	}
	if e.Period.Fraction != nil {
		view.Share = e.Period.Fraction.Mul(decimal.NewFromInt(100)).StringFixed(0) + "% of remaining supply x group share"
	}
	if p := e.Previous; p != nil {
		view.Previous = &previousView{Budget: p.Budget.String(), Usage: p.Usage.String(), Overuse: p.Overuse.String()}
	}
	for _, m := range e.Group.Members {
		view.Members = append(view.Members, memberView{
			ID:      m.ID,
			Weight:  r.cfg.DescribeWeight(m.Person),
			Compute: m.Compute.String(),
			Storage: m.Storage.String(),
		})
	}

	var msgs []Message
	leader, err := execute(r.tmpl.leader, view)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, Message{
		Recipient: r.address(view.Leader),
		Subject:   fmt.Sprintf("HPC allocation for %s, %s period %d", view.Group, view.Quarter, view.Period),
		Body:      leader,
	})

	for _, m := range e.Group.Members {
		if m.ID == view.Leader || m.Past {
			continue
		}
		mv := view
		mv.Recipient = m.ID
		body, err := execute(r.tmpl.member, mv)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{
			Recipient: r.address(m.ID),
			Subject:   fmt.Sprintf("HPC allocation for %s, %s period %d", view.Group, view.Quarter, view.Period),
			Body:      body,
		})
	}
	return stamp(msgs, e), nil
}

type warningView struct {
	Group, Leader, Quarter, SignOff string
	Period                          int
	Usage, Budget, Percent          string
	Threshold, Delta                string
}

func (r *Renderer) usageWarning(e allocation.UsageWarning) ([]Message, error) {
	view := warningView{
		Group:   e.Group.ID,
		Leader:  e.Record.Leader,
		Quarter: e.Period.Quarter.String(),
		Period:  e.Period.Index + 1,
		SignOff: r.signOff,
		Usage:   e.NewUsage.String(),
		Budget:  e.Record.Budget.String(),
		Percent: e.Record.UsagePercent().StringFixed(1),
		Delta:   e.NewUsage.Sub(e.OldUsage).String(),
	}
	if view.Leader == "" {
		view.Leader = e.Group.Leader
	}

	tmpl, subject := r.tmpl.exhausted, fmt.Sprintf("HPC usage of %s with no allocation left", view.Group)
	if !e.Exhausted() {
		view.Threshold = e.Threshold.String()
		tmpl, subject = r.tmpl.warning, fmt.Sprintf("HPC usage of %s passed %s%% of its allocation", view.Group, view.Threshold)
	}
	body, err := execute(tmpl, view)
	if err != nil {
		return nil, err
	}
	return stamp([]Message{{Recipient: r.address(view.Leader), Subject: subject, Body: body}}, e), nil
}

func stamp(msgs []Message, ev allocation.Event) []Message {
	for i := range msgs {
		msgs[i].Kind = ev.Kind()
		msgs[i].GroupID = ev.GroupID()
		msgs[i].Draft = ev.IsDraft()
	}
	return msgs
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}
