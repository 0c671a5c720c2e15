/*
Copyright 2026 the baudrate authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package admin is the operator console: the delivery queue, the
// blocklist audit and key rotation, over a terminal.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/baudrate/baudrate/fed"
	"github.com/baudrate/baudrate/keys"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

const maxRows = 50

type Model struct {
	queue   *fed.Queue
	auditor *fed.Auditor
	keys    *keys.Manager

	table  table.Model
	counts map[string]int
	rate   float64
	audit  string
	status string
	err    string
}

type refreshMsg struct {
	jobs   []fed.Job
	counts map[string]int
	rate   float64
	err    error
}

type auditMsg struct {
	report *fed.AuditReport
	err    error
}

type actionMsg struct {
	status string
	err    error
}

func New(queue *fed.Queue, auditor *fed.Auditor, manager *keys.Manager, width, height int) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "Inbox", Width: max(20, width/3)},
			{Title: "Attempts", Width: 8},
			{Title: "Error", Width: max(20, width/3)},
		}),
		table.WithFocused(true),
		table.WithHeight(max(5, height-8)),
	)

	return Model{
		queue:   queue,
		auditor: auditor,
		keys:    manager,
		table:   t,
		counts:  map[string]int{},
	}
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		jobs, err := m.queue.Failures(ctx, maxRows)
		if err != nil {
			return refreshMsg{err: err}
		}

		counts, err := m.queue.StatusCounts(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}

		rate, err := m.queue.ErrorRate(ctx, time.Hour*24)
		if err != nil {
			return refreshMsg{err: err}
		}

		return refreshMsg{jobs: jobs, counts: counts, rate: rate}
	}
}

func (m Model) runAudit() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		report, err := m.auditor.Audit(ctx)
		return auditMsg{report: report, err: err}
	}
}

func (m Model) rotateSiteKey() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := m.keys.Rotate(ctx, keys.Site, ""); err != nil {
			return actionMsg{err: err}
		}

		return actionMsg{status: "rotated site key"}
	}
}

func (m Model) selectedJob() (int64, bool) {
	row := m.table.SelectedRow()
	if row == nil {
		return 0, false
	}

	id, err := strconv.ParseInt(row[0], 10, 64)
	return id, err == nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "r":
			if id, ok := m.selectedJob(); ok {
				queue := m.queue
				return m, tea.Sequence(func() tea.Msg {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
					defer cancel()

					if err := queue.Retry(ctx, id); err != nil {
						return actionMsg{err: err}
					}
					return actionMsg{status: fmt.Sprintf("retrying job %d", id)}
				}, m.refresh())
			}

		case "d":
			if id, ok := m.selectedJob(); ok {
				queue := m.queue
				return m, tea.Sequence(func() tea.Msg {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
					defer cancel()

					if err := queue.Abandon(ctx, id); err != nil {
						return actionMsg{err: err}
					}
					return actionMsg{status: fmt.Sprintf("abandoned job %d", id)}
				}, m.refresh())
			}

		case "b":
			m.status = "auditing blocklist..."
			return m, m.runAudit()

		case "k":
			return m, m.rotateSiteKey()

		case "R":
			return m, m.refresh()
		}

	case refreshMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}

		m.err = ""
		m.counts = msg.counts
		m.rate = msg.rate

		rows := make([]table.Row, 0, len(msg.jobs))
		for _, job := range msg.jobs {
			rows = append(rows, table.Row{
				strconv.FormatInt(job.ID, 10),
				job.Inbox,
				strconv.Itoa(job.Attempts),
				job.LastError,
			})
		}
		m.table.SetRows(rows)
		return m, nil

	case auditMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			m.status = ""
			return m, nil
		}

		m.audit = formatAudit(msg.report)
		m.status = ""
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}

		m.err = ""
		m.status = msg.status
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func formatAudit(report *fed.AuditReport) string {
	var b strings.Builder

	if len(report.Missing) == 0 && len(report.Extra) == 0 {
		return "blocklist matches the reference list"
	}

	missing := make([]string, 0, len(report.Missing))
	for domain := range report.Missing {
		missing = append(missing, domain)
	}
	sort.Strings(missing)

	for _, domain := range missing {
		fmt.Fprintf(&b, "not blocked: %s (%d known actors)\n", domain, report.Missing[domain])
	}

	for _, domain := range report.Extra {
		fmt.Fprintf(&b, "blocked, not listed: %s\n", domain)
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("baudrate delivery queue"))
	b.WriteByte('\n')

	b.WriteString(statusStyle.Render(fmt.Sprintf(
		"pending %d  in flight %d  delivered %d  failed %d  abandoned %d  errors (24h) %.1f%%",
		m.counts[fed.StatusPending],
		m.counts[fed.StatusInFlight],
		m.counts[fed.StatusDelivered],
		m.counts[fed.StatusFailedPermanent],
		m.counts[fed.StatusAbandoned],
		m.rate*100,
	)))
	b.WriteByte('\n')

	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteByte('\n')

	if m.audit != "" {
		b.WriteString(m.audit)
		b.WriteByte('\n')
	}

	if m.err != "" {
		b.WriteString(errorStyle.Render(m.err))
		b.WriteByte('\n')
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteByte('\n')
	}

	b.WriteString(helpStyle.Render("r retry  d abandon  b audit  k rotate key  R refresh  q quit"))
	return b.String()
}
